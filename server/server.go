// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package server runs a route table over HTTP/1.1, cleartext HTTP/2
// and, optionally, yamux.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/z5labs/oneshot/bridge"
	"github.com/z5labs/oneshot/health"
	"github.com/z5labs/oneshot/internal/try"
	"github.com/z5labs/oneshot/listener"
	"github.com/z5labs/oneshot/logging"
	"github.com/z5labs/oneshot/mux"
	"github.com/z5labs/oneshot/transport/h2"
	"github.com/z5labs/oneshot/transport/ymux"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"
)

type options struct {
	log   *slog.Logger
	tp    trace.TracerProvider
	mp    metric.MeterProvider
	ready *health.Flag
}

// Option
type Option func(*options)

// Logger
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// TracerProvider overrides the global provider used to trace requests.
func TracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tp = tp
	}
}

// MeterProvider overrides the global provider used by the listener
// and stream counters.
func MeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.mp = mp
		}
	}
}

// Readiness is set while the runtime is serving and cleared once
// shutdown begins.
func Readiness(f *health.Flag) Option {
	return func(o *options) {
		o.ready = f
	}
}

// Runtime
type Runtime struct {
	log   *slog.Logger
	ready *health.Flag

	httpLs  *listener.Listener
	httpSrv *http.Server

	// h2c connections are hijacked so Shutdown does not see them
	hijacked        *hijackTracker
	cancelBase      context.CancelFunc
	shutdownTimeout time.Duration

	yamuxLs *listener.Listener
	bridge  *bridge.Bridge
}

// Build binds the configured listeners. The table is built if that
// has not happened yet.
func Build(ctx context.Context, cfg Config, table *mux.Table, opts ...Option) (_ *Runtime, err error) {
	o := &options{
		log:   logging.Discard(),
		mp:    otel.GetMeterProvider(),
		ready: new(health.Flag),
	}
	for _, opt := range opts {
		opt(o)
	}

	if !table.Built() {
		err = table.Build()
		if err != nil {
			return nil, err
		}
	}
	for _, route := range table.Routes() {
		o.log.DebugContext(ctx, "registered route", slog.String("method", route.Method), slog.String("path", route.Matcher.String()))
	}

	b, err := bridge.New(
		table,
		bridge.Debug(cfg.Service.Debug),
		bridge.Logger(o.log),
		bridge.Meter(o.mp.Meter("github.com/z5labs/oneshot/bridge")),
	)
	if err != nil {
		return nil, err
	}

	var streams http.Handler
	if cfg.HTTP.H2C {
		streams = h2.Handler(b)
	}

	otelOpts := []otelhttp.Option{
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		otelhttp.WithMeterProvider(o.mp),
	}
	if o.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(o.tp))
	}
	var h http.Handler = otelhttp.NewHandler(
		NewDispatcher(table, streams, cfg.Service.Debug, o.log),
		"oneshot",
		otelOpts...,
	)
	lsOpts := append(
		cfg.listenerOptions(o.log),
		listener.Meter(o.mp.Meter("github.com/z5labs/oneshot/listener")),
	)
	httpLs, err := listener.Listen(ctx, "tcp", cfg.HTTP.Addr, lsOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			try.Close(&err, httpLs)
		}
	}()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			cancelBase()
		}
	}()

	hijacked := newHijackTracker()
	httpSrv := &http.Server{
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(o.log.Handler(), slog.LevelWarn),
		ConnState:         hijacked.connState,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}
	if cfg.HTTP.H2C {
		h2s := &http2.Server{IdleTimeout: cfg.HTTP.IdleTimeout}

		// registers the GOAWAY on Shutdown for connections served by h2s
		err = http2.ConfigureServer(httpSrv, h2s)
		if err != nil {
			return nil, err
		}
		h = h2.Cleartext(h, h2s)
	}
	httpSrv.Handler = h

	rt := &Runtime{
		log:             o.log,
		ready:           o.ready,
		httpLs:          httpLs,
		httpSrv:         httpSrv,
		hijacked:        hijacked,
		cancelBase:      cancelBase,
		shutdownTimeout: cfg.HTTP.ShutdownTimeout,
		bridge:          b,
	}

	if cfg.Yamux.Addr == "" {
		return rt, nil
	}
	rt.yamuxLs, err = listener.Listen(ctx, "tcp", cfg.Yamux.Addr, lsOpts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Addr is the bound HTTP address.
func (rt *Runtime) Addr() net.Addr {
	return rt.httpLs.Addr()
}

// YamuxAddr is the bound yamux address or nil if yamux is disabled.
func (rt *Runtime) YamuxAddr() net.Addr {
	if rt.yamuxLs == nil {
		return nil
	}
	return rt.yamuxLs.Addr()
}

// Run serves until ctx is cancelled and then shuts down gracefully.
// HTTP/2 connections are sent a GOAWAY and drained like HTTP/1.1 ones.
// Whatever is still open after the shutdown timeout is closed and the
// contexts of in-flight requests are cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	defer rt.cancelBase()
	rt.ready.Set(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.log.InfoContext(ctx, "started http server", slog.String("addr", rt.Addr().String()))
		return rt.httpSrv.Serve(rt.hijacked.listener(rt.httpLs))
	})
	g.Go(func() error {
		<-gctx.Done()
		rt.ready.Set(false)

		rt.log.InfoContext(ctx, "shutting down http server")
		defer rt.log.InfoContext(ctx, "shut down http server")
		return rt.shutdown()
	})

	if rt.yamuxLs != nil {
		g.Go(func() error {
			rt.log.InfoContext(ctx, "started yamux server", slog.String("addr", rt.YamuxAddr().String()))
			return rt.serveYamux(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			return rt.yamuxLs.Close()
		})
	}

	err := g.Wait()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	rt.log.ErrorContext(ctx, "server encountered unexpected error", logging.Error(err))
	return err
}

func (rt *Runtime) shutdown() error {
	ctx := context.Background()
	if rt.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.shutdownTimeout)
		defer cancel()
	}

	err := rt.httpSrv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		rt.log.Warn("closing http connections which did not drain in time")
		rt.cancelBase()
		err = rt.httpSrv.Close()
	}

	werr := rt.hijacked.wait(ctx)
	if werr != nil {
		rt.log.Warn("closed http/2 connections which did not drain in time")
		rt.cancelBase()
	}
	return err
}

func (rt *Runtime) serveYamux(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := rt.yamuxLs.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			err := ymux.Serve(ctx, conn, rt.bridge, ymux.Logger(rt.log))
			if err != nil {
				rt.log.ErrorContext(ctx, "yamux session failed", slog.String("remote_addr", conn.RemoteAddr().String()), logging.Error(err))
			}
		}()
	}
}
