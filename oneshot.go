// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package oneshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/z5labs/oneshot/config"
	"github.com/z5labs/oneshot/health"
	"github.com/z5labs/oneshot/internal/try"
	"github.com/z5labs/oneshot/logging"
	"github.com/z5labs/oneshot/mux"
	"github.com/z5labs/oneshot/server"
	"github.com/z5labs/oneshot/service"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Setup is handed to a [Registrar] once configuration is loaded.
type Setup struct {
	Config server.Config
	Log    *slog.Logger

	// Ready is healthy while the server accepts traffic.
	Ready health.Metric

	m *config.Manager
}

// Unmarshal decodes the full configuration into v. Use it for
// application specific sections.
func (s Setup) Unmarshal(v any) error {
	return s.m.Unmarshal(v)
}

// ServiceOptions returns the options every registered service should use.
func (s Setup) ServiceOptions() []service.Option {
	return s.Config.ServiceOptions(s.Log)
}

// Registrar adds routes to the table before it is built.
type Registrar interface {
	Register(context.Context, Setup, *mux.Table) error
}

// RegistrarFunc is a functional implementation of the [Registrar] interface.
type RegistrarFunc func(context.Context, Setup, *mux.Table) error

// Register implements the [Registrar] interface.
func (f RegistrarFunc) Register(ctx context.Context, s Setup, t *mux.Table) error {
	return f(ctx, s, t)
}

type options struct {
	srcs     []config.Source
	out      io.Writer
	signals  []os.Signal
	tp       trace.TracerProvider
	mp       metric.MeterProvider
	postRuns []func(context.Context) error
}

// Option
type Option func(*options)

// Sources registers config sources. Later sources override earlier ones
// and all of them override [server.DefaultConfig].
func Sources(srcs ...config.Source) Option {
	return func(o *options) {
		o.srcs = append(o.srcs, srcs...)
	}
}

// LogOutput sets where logs are written. Defaults to [os.Stderr].
func LogOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// Signals overrides the signals which stop the server.
// Defaults to SIGINT and SIGTERM.
func Signals(sigs ...os.Signal) Option {
	return func(o *options) {
		o.signals = sigs
	}
}

// TracerProvider is used to trace incoming requests.
func TracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tp = tp
	}
}

// MeterProvider receives the listener, bridge and HTTP metrics.
// Defaults to the global provider.
func MeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.mp = mp
	}
}

// PostRun registers hooks which run after the server stops, regardless
// of how it stopped.
func PostRun(hooks ...func(context.Context) error) Option {
	return func(o *options) {
		o.postRuns = append(o.postRuns, hooks...)
	}
}

// Run reads configuration, registers routes with r and serves them until
// ctx is cancelled or a stop signal is received.
func Run(ctx context.Context, r Registrar, opts ...Option) (err error) {
	o := &options{
		out:     os.Stderr,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(o)
	}
	defer runPostRunHooks(ctx, o.postRuns, &err)

	m, err := config.Read(o.srcs...)
	if err != nil {
		return ConfigReadError{Cause: err}
	}

	cfg := server.DefaultConfig()
	err = m.Unmarshal(&cfg)
	if err != nil {
		return ConfigUnmarshalError{Cause: err}
	}

	log, err := logging.New(o.out, cfg.Log)
	if err != nil {
		return BuildError{Cause: err}
	}

	sigCtx, cancel := signal.NotifyContext(ctx, o.signals...)
	defer cancel()

	ready := new(health.Flag)
	rt, err := build(sigCtx, Setup{Config: cfg, Log: log, Ready: ready, m: m}, r, ready, o)
	if err != nil {
		log.ErrorContext(ctx, "failed to build server", logging.Error(err))
		return BuildError{Cause: err}
	}

	err = rt.Run(sigCtx)
	if err != nil {
		return RunError{Cause: err}
	}
	return nil
}

func build(ctx context.Context, s Setup, r Registrar, ready *health.Flag, o *options) (_ *server.Runtime, err error) {
	defer try.Recover(&err)

	table, err := s.Config.NewTable()
	if err != nil {
		return nil, err
	}
	err = r.Register(ctx, s, table)
	if err != nil {
		return nil, err
	}

	opts := []server.Option{
		server.Logger(s.Log),
		server.Readiness(ready),
	}
	if o.tp != nil {
		opts = append(opts, server.TracerProvider(o.tp))
	}
	if o.mp != nil {
		opts = append(opts, server.MeterProvider(o.mp))
	}
	return server.Build(ctx, s.Config, table, opts...)
}

func runPostRunHooks(ctx context.Context, hooks []func(context.Context) error, err *error) {
	errs := []error{*err}
	for _, hook := range hooks {
		errs = append(errs, hook(ctx))
	}
	*err = errors.Join(errs...)
}

// ConfigReadError
type ConfigReadError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigReadError) Error() string {
	return fmt.Sprintf("failed to read config source(s): %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigReadError) Unwrap() error {
	return e.Cause
}

// ConfigUnmarshalError
type ConfigUnmarshalError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigUnmarshalError) Error() string {
	return fmt.Sprintf("failed to unmarshal config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigUnmarshalError) Unwrap() error {
	return e.Cause
}

// BuildError
type BuildError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e BuildError) Error() string {
	return fmt.Sprintf("failed to build server: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e BuildError) Unwrap() error {
	return e.Cause
}

// RunError
type RunError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e RunError) Error() string {
	return fmt.Sprintf("failed to run server: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e RunError) Unwrap() error {
	return e.Cause
}
