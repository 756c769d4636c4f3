// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"log/slog"
	"net/http"

	"github.com/z5labs/oneshot/bridge"
	"github.com/z5labs/oneshot/logging"
	"github.com/z5labs/oneshot/service"
)

// Dispatcher serves single shot HTTP/1.x requests straight from the
// route table. HTTP/2 requests are handed to the stream handler, if any.
type Dispatcher struct {
	resolver bridge.Resolver
	streams  http.Handler
	debug    bool
	log      *slog.Logger
}

// NewDispatcher
func NewDispatcher(r bridge.Resolver, streams http.Handler, debug bool, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: r,
		streams:  streams,
		debug:    debug,
		log:      log,
	}
}

// ServeHTTP implements the [http.Handler] interface.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.ProtoMajor == 2 && d.streams != nil {
		d.streams.ServeHTTP(w, r)
		return
	}

	req := service.FromHTTP(r)
	path := req.Path()

	svc, ok := d.resolver.Resolve(r.Method, path)
	if !ok {
		d.write(w, r, service.InvalidEndpoint(r.Method, path, d.debug))
		return
	}

	resp, err := svc.Call(r.Context(), req)
	if err != nil {
		d.log.ErrorContext(
			r.Context(),
			"closing connection after transport failure",
			slog.String("method", r.Method),
			slog.String("path", path),
			logging.Error(err),
		)
		panic(http.ErrAbortHandler)
	}
	d.write(w, r, resp)
}

func (d *Dispatcher) write(w http.ResponseWriter, r *http.Request, resp *service.Response) {
	err := resp.WriteHTTP(w)
	if err != nil {
		d.log.WarnContext(r.Context(), "failed to write response", logging.Error(err))
	}
}
