// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package ymux serves yamux sessions through a [bridge.Bridge].
//
// Each yamux stream carries exactly one HTTP/1.1 exchange. The response
// is always sent with chunked transfer encoding so a stream which is
// closed before the terminating chunk is seen by the client as a
// reset rather than a complete response.
//
// yamux offers no way to abort a single stream, so a reset is a
// regular close (FIN) of the stream. Peers must treat a response
// body which ends without the zero length chunk, reported by
// net/http as [io.ErrUnexpectedEOF], as a reset stream.
package ymux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/z5labs/oneshot/bridge"
	"github.com/z5labs/oneshot/logging"
)

const readBufferSize = 16 << 10

type options struct {
	log    *slog.Logger
	config *yamux.Config
}

// Option
type Option func(*options)

// Logger
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Config overrides the yamux session config. Its log output is
// always redirected to the configured [Logger].
func Config(cfg *yamux.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

func sessionConfig(o *options) *yamux.Config {
	cfg := yamux.DefaultConfig()
	if o.config != nil {
		c := *o.config
		cfg = &c
	}
	// yamux rejects configs which set both
	cfg.Logger = nil
	cfg.LogOutput = logWriter{log: o.log}
	return cfg
}

// logWriter forwards the yamux log lines.
type logWriter struct {
	log *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Warn(string(bytes.TrimSpace(p)), slog.String("source", "yamux"))
	return len(p), nil
}

// Serve runs a yamux server session over conn until the peer goes away
// or ctx is cancelled. Streams still in flight are waited for.
func Serve(ctx context.Context, conn net.Conn, b *bridge.Bridge, opts ...Option) error {
	o := &options{
		log: logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}

	session, err := yamux.Server(conn, sessionConfig(o))
	if err != nil {
		conn.Close()
		return err
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() {
		session.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		ys, err := session.AcceptStream()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, yamux.ErrSessionShutdown) {
				return nil
			}
			o.log.ErrorContext(ctx, "failed to accept yamux stream", logging.Error(err))
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveStream(ctx, b, ys, conn.RemoteAddr(), o.log)
		}()
	}
}

func serveStream(ctx context.Context, b *bridge.Bridge, ys *yamux.Stream, remote net.Addr, log *slog.Logger) {
	defer ys.Close()

	req, err := http.ReadRequest(bufio.NewReader(ys))
	if err != nil {
		log.WarnContext(ctx, "failed to read request from yamux stream", slog.Uint64("stream_id", uint64(ys.StreamID())), logging.Error(err))
		return
	}

	s := &stream{
		ys:     ys,
		req:    req,
		remote: remote,
		w:      bufio.NewWriter(ys),
	}
	// the error is logged by the bridge
	_ = b.ServeStream(ctx, s)
}

type stream struct {
	ys     *yamux.Stream
	req    *http.Request
	remote net.Addr

	buf []byte
	w   *bufio.Writer
	cw  io.WriteCloser
}

func (s *stream) ID() uint64 {
	return uint64(s.ys.StreamID())
}

func (s *stream) Head() bridge.Head {
	var remote string
	if s.remote != nil {
		remote = s.remote.String()
	}
	return bridge.Head{
		Method:     s.req.Method,
		URL:        s.req.URL,
		Header:     s.req.Header,
		RemoteAddr: remote,
	}
}

func (s *stream) Recv(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		s.ys.SetReadDeadline(time.Now())
	})
	defer stop()

	if s.buf == nil {
		s.buf = make([]byte, readBufferSize)
	}
	n, err := s.req.Body.Read(s.buf)
	if cerr := ctx.Err(); err != nil && cerr != nil {
		return s.buf[:n], cerr
	}
	return s.buf[:n], err
}

func (s *stream) SendHeaders(status int, header http.Header) error {
	_, err := fmt.Fprintf(s.w, "HTTP/1.1 %03d %s\r\n", status, http.StatusText(status))
	if err != nil {
		return err
	}

	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Del("Content-Length")
	h.Set("Transfer-Encoding", "chunked")
	err = h.Write(s.w)
	if err != nil {
		return err
	}
	_, err = s.w.WriteString("\r\n")
	if err != nil {
		return err
	}

	s.cw = httputil.NewChunkedWriter(s.w)
	return s.w.Flush()
}

func (s *stream) SendData(p []byte) error {
	_, err := s.cw.Write(p)
	if err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *stream) Finish() error {
	err := s.cw.Close()
	if err != nil {
		return err
	}
	// empty trailer section
	_, err = s.w.WriteString("\r\n")
	if err != nil {
		return err
	}
	err = s.w.Flush()
	if err != nil {
		return err
	}
	return s.ys.Close()
}

// Reset half closes the stream without the terminating chunk.
func (s *stream) Reset(error) {
	s.ys.Close()
}

// RoundTrip sends req on a new stream of session and reads the response.
// Closing the response body closes the stream.
func RoundTrip(session *yamux.Session, req *http.Request) (*http.Response, error) {
	ys, err := session.OpenStream()
	if err != nil {
		return nil, err
	}

	err = req.Write(ys)
	if err != nil {
		ys.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(ys), req)
	if err != nil {
		ys.Close()
		return nil, err
	}
	resp.Body = &streamBody{ReadCloser: resp.Body, ys: ys}
	return resp, nil
}

type streamBody struct {
	io.ReadCloser
	ys *yamux.Stream
}

func (b *streamBody) Close() error {
	return errors.Join(b.ReadCloser.Close(), b.ys.Close())
}
