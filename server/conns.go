// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"net"
	"net/http"
	"sync"
)

// hijackTracker follows connections taken over from the http.Server,
// e.g. by the h2c handler, which http.Server.Shutdown no longer waits for.
type hijackTracker struct {
	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[*trackedConn]struct{}
}

func newHijackTracker() *hijackTracker {
	return &hijackTracker{
		conns: make(map[*trackedConn]struct{}),
	}
}

func (t *hijackTracker) listener(ls net.Listener) net.Listener {
	return trackedListener{Listener: ls, t: t}
}

// connState must be installed as the http.Server ConnState hook.
func (t *hijackTracker) connState(c net.Conn, state http.ConnState) {
	if state != http.StateHijacked {
		return
	}
	tc, ok := c.(*trackedConn)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tc.hijacked = true
	t.conns[tc] = struct{}{}
	t.wg.Add(1)
}

func (t *hijackTracker) release(tc *trackedConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !tc.hijacked {
		return
	}
	delete(t.conns, tc)
	t.wg.Done()
}

// wait blocks until every hijacked connection is closed. Once ctx is
// done the remaining connections are closed forcibly and ctx.Err()
// is returned.
func (t *hijackTracker) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	t.mu.Lock()
	conns := make([]*trackedConn, 0, len(t.conns))
	for tc := range t.conns {
		conns = append(conns, tc)
	}
	t.mu.Unlock()

	for _, tc := range conns {
		tc.Close()
	}
	<-done
	return ctx.Err()
}

type trackedListener struct {
	net.Listener
	t *hijackTracker
}

func (l trackedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &trackedConn{Conn: conn, t: l.t}, nil
}

type trackedConn struct {
	net.Conn
	t    *hijackTracker
	once sync.Once

	// guarded by t.mu
	hijacked bool
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() {
		c.t.release(c)
	})
	return err
}
