// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package bridge serves the streams of a multiplexed connection with
// the same single request, single response services used for plain
// HTTP/1.1 connections.
//
// Every stream is handled by two jointly awaited tasks. The body feed
// copies the incoming data frames, one at a time, into the request body
// read by the service. The call task resolves the route, calls the
// service and, once the whole request body has been handed over, sends
// the response headers followed by the body as data frames. A failure
// in either task resets only that stream.
package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/z5labs/oneshot/internal/joint"
	"github.com/z5labs/oneshot/logging"
	"github.com/z5labs/oneshot/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultChunkSize is the largest data frame sent for a response body.
const DefaultChunkSize = 16 << 10

// Head is the request line and headers of a stream.
type Head struct {
	Method     string
	URL        *url.URL
	Header     http.Header
	RemoteAddr string
}

// Stream is one request/response exchange on a multiplexed connection.
// Frame encoding, flow control and stream ids belong to the transport.
type Stream interface {
	ID() uint64
	Head() Head

	// Recv returns the next chunk of the request body. It returns
	// io.EOF once the peer has finished sending.
	Recv(context.Context) ([]byte, error)

	SendHeaders(status int, header http.Header) error
	SendData([]byte) error

	// Finish marks the end of the response.
	Finish() error

	// Reset aborts the stream. It must be safe to call at any point.
	Reset(error)
}

// Resolver finds the service for a request.
type Resolver interface {
	Resolve(method, path string) (service.Service, bool)
}

type options struct {
	chunkSize    int
	debug        bool
	log          *slog.Logger
	meter        metric.Meter
	onTransition func(Transition)
}

// Option
type Option func(*options)

// ChunkSize caps the size of each response data frame.
func ChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// Debug controls whether InvalidEndpoint replies include the msg field.
func Debug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// Logger
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Meter
func Meter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// OnTransition registers f to observe every state change of every stream.
// f is called from the goroutine serving the stream.
func OnTransition(f func(Transition)) Option {
	return func(o *options) {
		o.onTransition = f
	}
}

// Bridge
type Bridge struct {
	resolver     Resolver
	chunkSize    int
	debug        bool
	log          *slog.Logger
	onTransition func(Transition)
	streams      metric.Int64Counter
}

// New
func New(r Resolver, opts ...Option) (*Bridge, error) {
	o := &options{
		chunkSize: DefaultChunkSize,
		debug:     true,
		log:       logging.Discard(),
		meter:     otel.GetMeterProvider().Meter("github.com/z5labs/oneshot/bridge"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.chunkSize < 1 {
		o.chunkSize = DefaultChunkSize
	}

	streams, err := o.meter.Int64Counter(
		"oneshot.bridge.streams",
		metric.WithDescription("Number of streams served, by outcome."),
	)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		resolver:     r,
		chunkSize:    o.chunkSize,
		debug:        o.debug,
		log:          o.log,
		onTransition: o.onTransition,
		streams:      streams,
	}
	return b, nil
}

var errBodyUnread = errors.New("bridge: service returned before reading the whole body")

// ServeStream handles s until its response is finished or it fails. On
// failure s is reset and the error is returned for the caller to log.
func (b *Bridge) ServeStream(ctx context.Context, s Stream) error {
	head := s.Head()
	st := &tracker{
		id:      s.ID(),
		state:   AwaitingHeaders,
		observe: b.onTransition,
	}
	st.moveTo(BodyAndCallInFlight, nil)

	x := &exchange{
		bridge: b,
		stream: s,
		head:   head,
		state:  st,
		fed:    make(chan struct{}),
	}
	x.body, x.bodyW = io.Pipe()

	err := joint.Wait(
		ctx,
		joint.Task{Name: "body feed", Run: x.feed},
		joint.Task{Name: "call", Run: x.call},
	)
	if err != nil {
		st.moveTo(Closed, err)
		s.Reset(err)
		b.streams.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "reset")))
		b.log.ErrorContext(
			ctx,
			"stream failed",
			slog.Uint64("stream_id", s.ID()),
			slog.String("method", head.Method),
			slog.String("path", pathOf(head.URL)),
			logging.Error(err),
		)
		return err
	}

	st.moveTo(Closed, nil)
	b.streams.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	return nil
}

type exchange struct {
	bridge *Bridge
	stream Stream
	head   Head
	state  *tracker

	body  *io.PipeReader
	bodyW *io.PipeWriter

	// fed is closed once the feed task is done. feedErr
	// must only be read after that.
	fed     chan struct{}
	feedErr error
}

func (x *exchange) feed(ctx context.Context) (err error) {
	defer func() {
		x.feedErr = err
		close(x.fed)
	}()

	for {
		chunk, err := x.stream.Recv(ctx)
		if len(chunk) > 0 {
			// blocks until the service has consumed the whole chunk
			_, werr := x.bodyW.Write(chunk)
			if errors.Is(werr, errBodyUnread) {
				return nil
			}
			if werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return x.bodyW.Close()
		}
		if err != nil {
			x.bodyW.CloseWithError(err)
			return err
		}
	}
}

func (x *exchange) call(ctx context.Context) error {
	resp, err := x.invoke(ctx)

	// unblocks the feed task if the service left part of the body unread
	x.body.CloseWithError(errBodyUnread)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-x.fed:
	}
	if x.feedErr != nil {
		// reported by the feed task
		return nil
	}

	x.state.moveTo(ResponseHeadersSent, nil)
	err = x.stream.SendHeaders(resp.Status, resp.Header)
	if err != nil {
		return err
	}

	x.state.moveTo(ResponseBodyStreaming, nil)
	size := x.bridge.chunkSize
	for b := resp.Body; len(b) > 0; {
		n := min(size, len(b))
		err = x.stream.SendData(b[:n])
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return x.stream.Finish()
}

func (x *exchange) invoke(ctx context.Context) (*service.Response, error) {
	path := pathOf(x.head.URL)
	svc, ok := x.bridge.resolver.Resolve(x.head.Method, path)
	if !ok {
		return service.InvalidEndpoint(x.head.Method, path, x.bridge.debug), nil
	}

	return svc.Call(ctx, &service.Request{
		Method:     x.head.Method,
		URL:        x.head.URL,
		Header:     x.head.Header,
		Body:       x.body,
		RemoteAddr: x.head.RemoteAddr,
	})
}

func pathOf(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
