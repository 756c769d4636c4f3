// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package h2 serves HTTP/2 streams through a [bridge.Bridge].
package h2

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/z5labs/oneshot/bridge"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const readBufferSize = 16 << 10

// Handler turns every request it receives into a [bridge.Stream]. A
// stream which fails is reset with RST_STREAM instead of being ended
// normally.
func Handler(b *bridge.Bridge) http.Handler {
	return &handler{bridge: b}
}

// Cleartext wraps h so HTTP/2 is also accepted without TLS, either
// with prior knowledge or through an h2c upgrade.
func Cleartext(h http.Handler, s *http2.Server) http.Handler {
	if s == nil {
		s = &http2.Server{}
	}
	return h2c.NewHandler(h, s)
}

type handler struct {
	bridge *bridge.Bridge
	nextID atomic.Uint64
}

// ServeHTTP implements the [http.Handler] interface.
func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := &stream{
		id: h.nextID.Add(1),
		w:  w,
		r:  r,
		rc: http.NewResponseController(w),
	}

	// the error is logged by the bridge
	_ = h.bridge.ServeStream(r.Context(), s)
	if s.reset.Load() {
		panic(http.ErrAbortHandler)
	}
}

type stream struct {
	id    uint64
	w     http.ResponseWriter
	r     *http.Request
	rc    *http.ResponseController
	buf   []byte
	reset atomic.Bool
}

func (s *stream) ID() uint64 {
	return s.id
}

func (s *stream) Head() bridge.Head {
	return bridge.Head{
		Method:     s.r.Method,
		URL:        s.r.URL,
		Header:     s.r.Header,
		RemoteAddr: s.r.RemoteAddr,
	}
}

func (s *stream) Recv(ctx context.Context) ([]byte, error) {
	// closing the body unblocks a pending read
	stop := context.AfterFunc(ctx, func() {
		s.r.Body.Close()
	})
	defer stop()

	// the bridge is done with the previous chunk before asking for the next
	if s.buf == nil {
		s.buf = make([]byte, readBufferSize)
	}
	n, err := s.r.Body.Read(s.buf)
	if cerr := ctx.Err(); err != nil && cerr != nil {
		return s.buf[:n], cerr
	}
	return s.buf[:n], err
}

func (s *stream) SendHeaders(status int, header http.Header) error {
	h := s.w.Header()
	for k, vs := range header {
		h[k] = vs
	}
	s.w.WriteHeader(status)
	return nil
}

func (s *stream) SendData(p []byte) error {
	_, err := s.w.Write(p)
	if err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *stream) Finish() error {
	return nil
}

func (s *stream) Reset(error) {
	s.reset.Store(true)
}
