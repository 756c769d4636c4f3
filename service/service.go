// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/z5labs/oneshot/internal/try"
	"github.com/z5labs/oneshot/logging"
)

// Request is the transport independent shape of an incoming request.
type Request struct {
	Method     string
	URL        *url.URL
	Header     http.Header
	Body       io.Reader
	RemoteAddr string
}

// FromHTTP adapts a [http.Request]. The body is not copied.
func FromHTTP(r *http.Request) *Request {
	return &Request{
		Method:     r.Method,
		URL:        r.URL,
		Header:     r.Header,
		Body:       r.Body,
		RemoteAddr: r.RemoteAddr,
	}
}

// Path returns the request path or "/" if the URL is missing.
func (r *Request) Path() string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// Response is a fully buffered reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// WriteHTTP writes the status, headers and body to w.
func (resp *Response) WriteHTTP(w http.ResponseWriter) error {
	h := w.Header()
	for k, vs := range resp.Header {
		h[k] = vs
	}
	w.WriteHeader(resp.Status)
	_, err := w.Write(resp.Body)
	return err
}

// Service resolves exactly one response per request.
//
// The returned error is reserved for transport failures, e.g. the request
// body could not be read. Everything else, including handler errors,
// is reported through an error [Reply] in the response.
type Service interface {
	Call(context.Context, *Request) (*Response, error)
}

// Func
type Func func(context.Context, *Request) (*Response, error)

// Call implements the [Service] interface.
func (f Func) Call(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Empty
type Empty struct{}

// Handler
type Handler[Req, Resp any] interface {
	Handle(context.Context, Req) (Resp, error)
}

// HandlerFunc
type HandlerFunc[Req, Resp any] func(context.Context, Req) (Resp, error)

// Handle implements the [Handler] interface.
func (f HandlerFunc[Req, Resp]) Handle(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Sync adapts a plain function.
func Sync[Req, Resp any](f func(context.Context, Req) (Resp, error)) Handler[Req, Resp] {
	return HandlerFunc[Req, Resp](f)
}

// SyncState adapts a function which also receives shared state. The state
// is handed to every invocation as is so it must be safe for concurrent use
// if it is mutable.
func SyncState[S, Req, Resp any](state S, f func(context.Context, S, Req) (Resp, error)) Handler[Req, Resp] {
	return HandlerFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
		return f(ctx, state, req)
	})
}

// Async adapts a function which returns a [Future].
func Async[Req, Resp any](f func(context.Context, Req) Future[Resp]) Handler[Req, Resp] {
	return HandlerFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
		return f(ctx, req).Await(ctx)
	})
}

// AsyncState is the [Future] returning counterpart of [SyncState].
func AsyncState[S, Req, Resp any](state S, f func(context.Context, S, Req) Future[Resp]) Handler[Req, Resp] {
	return HandlerFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
		return f(ctx, state, req).Await(ctx)
	})
}

type options struct {
	maxBodyBytes int64
	debug        bool
	pool         *WorkerPool
	log          *slog.Logger
}

// Option
type Option func(*options)

// MaxBodyBytes caps the size of POST and PUT bodies.
func MaxBodyBytes(n int64) Option {
	return func(o *options) {
		o.maxBodyBytes = n
	}
}

// Debug controls whether error replies include the msg field.
func Debug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// Offload runs the handler on the given pool instead of the calling goroutine.
// Use it for handlers which block on CPU bound work.
func Offload(pool *WorkerPool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// Logger
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

type oneshot[Req, Resp any] struct {
	handler      Handler[Req, Resp]
	maxBodyBytes int64
	debug        bool
	pool         *WorkerPool
	log          *slog.Logger
}

// New wraps h into a [Service] which decodes the request into Req,
// invokes h and encodes its result as a JSON [Reply].
func New[Req, Resp any](h Handler[Req, Resp], opts ...Option) Service {
	o := &options{
		maxBodyBytes: DefaultMaxBodyBytes,
		debug:        true,
		log:          logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &oneshot[Req, Resp]{
		handler:      h,
		maxBodyBytes: o.maxBodyBytes,
		debug:        o.debug,
		pool:         o.pool,
		log:          o.log,
	}
}

// Call implements the [Service] interface.
func (s *oneshot[Req, Resp]) Call(ctx context.Context, r *Request) (*Response, error) {
	req, err := Decode[Req](r, s.maxBodyBytes)
	if IsTransport(err) {
		return nil, err
	}
	if err != nil {
		s.log.DebugContext(ctx, "failed to decode request", slog.String("method", r.Method), logging.Error(err))
		return ErrorResponse(err, s.debug), nil
	}

	resp, err := s.invoke(ctx, req)
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		return nil, Error{Kind: KindTransport, Cause: err}
	}
	if err != nil {
		var perr try.PanicError
		if errors.As(err, &perr) {
			s.log.ErrorContext(ctx, "handler panicked", logging.Error(err))
		}
		return Encode(Fail[Resp](err, s.debug), statusOf(err), s.debug), nil
	}
	return Encode(Ok(resp), http.StatusOK, s.debug), nil
}

func (s *oneshot[Req, Resp]) invoke(ctx context.Context, req Req) (Resp, error) {
	if s.pool == nil {
		return handle(ctx, s.handler, req)
	}
	return Spawn(ctx, s.pool, func(ctx context.Context) (Resp, error) {
		return handle(ctx, s.handler, req)
	}).Await(ctx)
}

func handle[Req, Resp any](ctx context.Context, h Handler[Req, Resp], req Req) (resp Resp, err error) {
	defer try.Recover(&err)

	return h.Handle(ctx, req)
}
