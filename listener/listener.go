// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package listener provides a [net.Listener] whose Accept survives
// transient failures instead of returning them.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-connlimit"
	"github.com/z5labs/oneshot/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultKeepAlive is applied to every accepted TCP connection.
	DefaultKeepAlive = 90 * time.Second

	// DefaultBackoff is how long Accept waits after an error which
	// is not specific to a single connection, e.g. EMFILE.
	DefaultBackoff = 10 * time.Millisecond

	// Backlog is the length of the pending connection queue.
	Backlog = 1024
)

type options struct {
	keepAlive     time.Duration
	backoff       time.Duration
	log           *slog.Logger
	maxConnsPerIP int
	meter         metric.Meter
}

// Option
type Option func(*options)

// KeepAlive sets the keep-alive period of accepted connections. A
// non-positive duration leaves the connection untouched.
func KeepAlive(d time.Duration) Option {
	return func(o *options) {
		o.keepAlive = d
	}
}

// Backoff
func Backoff(d time.Duration) Option {
	return func(o *options) {
		o.backoff = d
	}
}

// Logger
func Logger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// MaxConnsPerClientIP limits how many open connections a single client
// IP may hold. Connections beyond the limit are closed right after
// being accepted. Zero means unlimited.
func MaxConnsPerClientIP(n int) Option {
	return func(o *options) {
		o.maxConnsPerIP = n
	}
}

// Meter
func Meter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// Listener
type Listener struct {
	inner     net.Listener
	keepAlive time.Duration
	backoff   time.Duration
	log       *slog.Logger
	limiter   *connlimit.Limiter

	accepted     metric.Int64Counter
	acceptErrors metric.Int64Counter

	pendingBackoff atomic.Bool
	closeOnce      sync.Once
	closed         chan struct{}
}

// Listen binds addr with address and port reuse enabled, so several
// listeners, e.g. one per process, may share a port. On unix tcp
// sockets are created with a pending connection queue of [Backlog].
// Keep alive is applied by Accept instead of the socket.
func Listen(ctx context.Context, network, addr string, opts ...Option) (*Listener, error) {
	ls, err := listen(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return Wrap(ls, opts...)
}

// Wrap adds the resilient accept loop to an already bound listener.
func Wrap(ls net.Listener, opts ...Option) (*Listener, error) {
	o := &options{
		keepAlive: DefaultKeepAlive,
		backoff:   DefaultBackoff,
		log:       logging.Discard(),
		meter:     otel.GetMeterProvider().Meter("github.com/z5labs/oneshot/listener"),
	}
	for _, opt := range opts {
		opt(o)
	}

	accepted, err := o.meter.Int64Counter(
		"oneshot.listener.accepted",
		metric.WithDescription("Number of connections handed out by Accept."),
	)
	if err != nil {
		return nil, err
	}
	acceptErrors, err := o.meter.Int64Counter(
		"oneshot.listener.accept_errors",
		metric.WithDescription("Number of failed accept calls which were retried."),
	)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		inner:        ls,
		keepAlive:    o.keepAlive,
		backoff:      o.backoff,
		log:          o.log,
		accepted:     accepted,
		acceptErrors: acceptErrors,
		closed:       make(chan struct{}),
	}
	if o.maxConnsPerIP > 0 {
		l.limiter = connlimit.NewLimiter(connlimit.Config{
			MaxConnsPerClientIP: o.maxConnsPerIP,
		})
	}
	return l, nil
}

// Accept waits for the next connection. Errors caused by a single
// connection, e.g. it was reset before being accepted, are retried
// at once. Any other error is retried after the backoff delay. Accept
// only returns an error once the listener is closed.
func (l *Listener) Accept() (net.Conn, error) {
	ctx := context.Background()
	for {
		conn, err := l.inner.Accept()
		if err == nil {
			conn, err = l.admit(conn)
		}
		if err == nil {
			l.accepted.Add(ctx, 1)
			return conn, nil
		}
		if l.isClosed() || errors.Is(err, net.ErrClosed) {
			return nil, net.ErrClosed
		}

		if IsConnectionError(err) {
			l.acceptErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("retry", "immediate")))
			l.log.DebugContext(ctx, "connection failed before it was accepted", logging.Error(err))
			continue
		}

		l.acceptErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("retry", "backoff")))
		l.log.WarnContext(
			ctx,
			"failed to accept connection",
			slog.Duration("backoff", l.backoff),
			logging.Error(err),
		)
		if !l.wait() {
			return nil, net.ErrClosed
		}
	}
}

func (l *Listener) admit(conn net.Conn) (net.Conn, error) {
	l.setKeepAlive(conn)
	if l.limiter == nil {
		return conn, nil
	}

	free, err := l.limiter.Accept(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &limitedConn{Conn: conn, free: free}, nil
}

type keepAliver interface {
	SetKeepAlive(bool) error
	SetKeepAlivePeriod(time.Duration) error
}

func (l *Listener) setKeepAlive(conn net.Conn) {
	if l.keepAlive <= 0 {
		return
	}
	ka, ok := conn.(keepAliver)
	if !ok {
		return
	}

	err := ka.SetKeepAlive(true)
	if err == nil {
		err = ka.SetKeepAlivePeriod(l.keepAlive)
	}
	if err != nil {
		l.log.Debug(
			"failed to set keep alive",
			slog.String("remote_addr", conn.RemoteAddr().String()),
			logging.Error(err),
		)
	}
}

// wait sleeps for the backoff delay. It reports false if the
// listener was closed in the meantime.
func (l *Listener) wait() bool {
	l.pendingBackoff.Store(true)
	defer l.pendingBackoff.Store(false)

	t := time.NewTimer(l.backoff)
	defer t.Stop()

	select {
	case <-l.closed:
		return false
	case <-t.C:
		return true
	}
}

// Backoff reports whether Accept is currently waiting out a backoff delay.
func (l *Listener) Backoff() bool {
	return l.pendingBackoff.Load()
}

// Close stops the listener and interrupts a pending backoff.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.inner.Close()
	})
	return err
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Addr implements the [net.Listener] interface.
func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}

// IsConnectionError reports whether err only affects the connection being
// accepted rather than the listener as a whole.
func IsConnectionError(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
	case errors.Is(err, syscall.ECONNABORTED):
	case errors.Is(err, syscall.ECONNRESET):
	case errors.Is(err, connlimit.ErrPerClientIPLimitReached):
	default:
		return false
	}
	return true
}

type limitedConn struct {
	net.Conn
	once sync.Once
	free func()
}

func (c *limitedConn) Close() error {
	c.once.Do(c.free)
	return c.Conn.Close()
}
