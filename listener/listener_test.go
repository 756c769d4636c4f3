// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package listener

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acceptResult struct {
	conn net.Conn
	err  error
}

type fakeListener struct {
	results chan acceptResult
	calls   atomic.Int32

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		results: make(chan acceptResult, 8),
		closed:  make(chan struct{}),
	}
}

func (l *fakeListener) Accept() (net.Conn, error) {
	l.calls.Add(1)
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	case r := <-l.results:
		return r.conn, r.err
	}
}

func (l *fakeListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func acceptErr(errno syscall.Errno) error {
	return &net.OpError{
		Op:  "accept",
		Net: "tcp",
		Err: os.NewSyscallError("accept", errno),
	}
}

func acceptAsync(l net.Listener) <-chan acceptResult {
	ch := make(chan acceptResult, 1)
	go func() {
		conn, err := l.Accept()
		ch <- acceptResult{conn: conn, err: err}
	}()
	return ch
}

func TestListener_Accept(t *testing.T) {
	t.Run("will retry immediately", func(t *testing.T) {
		errnos := []syscall.Errno{syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ECONNREFUSED}
		for _, errno := range errnos {
			t.Run("if accept fails with "+errno.Error(), func(t *testing.T) {
				fake := newFakeListener()
				ls, err := Wrap(fake, Backoff(time.Hour))
				require.Nil(t, err)
				defer ls.Close()

				server, client := net.Pipe()
				defer client.Close()

				fake.results <- acceptResult{err: acceptErr(errno)}
				fake.results <- acceptResult{conn: server}

				select {
				case <-time.After(time.Second):
					t.Fatal("accept did not return")
				case r := <-acceptAsync(ls):
					if !assert.Nil(t, r.err) {
						return
					}
					if !assert.Equal(t, server, r.conn) {
						return
					}
				}
				if !assert.False(t, ls.Backoff()) {
					return
				}
				if !assert.Equal(t, int32(2), fake.calls.Load()) {
					return
				}
			})
		}
	})

	t.Run("will back off before retrying", func(t *testing.T) {
		t.Run("if accept fails because of resource exhaustion", func(t *testing.T) {
			fake := newFakeListener()
			ls, err := Wrap(fake)
			require.Nil(t, err)
			defer ls.Close()

			server, client := net.Pipe()
			defer client.Close()

			fake.results <- acceptResult{err: acceptErr(syscall.EMFILE)}
			fake.results <- acceptResult{conn: server}

			start := time.Now()
			conn, err := ls.Accept()
			elapsed := time.Since(start)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, server, conn) {
				return
			}
			if !assert.GreaterOrEqual(t, elapsed, DefaultBackoff) {
				return
			}
			if !assert.Equal(t, int32(2), fake.calls.Load()) {
				return
			}
		})

		t.Run("without calling accept during the delay", func(t *testing.T) {
			fake := newFakeListener()
			ls, err := Wrap(fake, Backoff(200*time.Millisecond))
			require.Nil(t, err)
			defer ls.Close()

			server, client := net.Pipe()
			defer client.Close()

			fake.results <- acceptResult{err: acceptErr(syscall.ENFILE)}
			ch := acceptAsync(ls)

			if !assert.Eventually(t, ls.Backoff, time.Second, time.Millisecond) {
				return
			}
			time.Sleep(50 * time.Millisecond)
			if !assert.Equal(t, int32(1), fake.calls.Load()) {
				return
			}

			fake.results <- acceptResult{conn: server}
			r := <-ch
			if !assert.Nil(t, r.err) {
				return
			}
			if !assert.False(t, ls.Backoff()) {
				return
			}
		})
	})

	t.Run("will return net.ErrClosed", func(t *testing.T) {
		t.Run("if the listener is closed during a backoff", func(t *testing.T) {
			fake := newFakeListener()
			ls, err := Wrap(fake, Backoff(time.Hour))
			require.Nil(t, err)

			fake.results <- acceptResult{err: acceptErr(syscall.EMFILE)}
			ch := acceptAsync(ls)

			if !assert.Eventually(t, ls.Backoff, time.Second, time.Millisecond) {
				return
			}
			require.Nil(t, ls.Close())

			select {
			case <-time.After(time.Second):
				t.Fatal("accept did not return")
			case r := <-ch:
				if !assert.ErrorIs(t, r.err, net.ErrClosed) {
					return
				}
			}
		})

		t.Run("if the listener is closed while waiting for a connection", func(t *testing.T) {
			fake := newFakeListener()
			ls, err := Wrap(fake)
			require.Nil(t, err)

			ch := acceptAsync(ls)
			require.Nil(t, ls.Close())

			r := <-ch
			if !assert.ErrorIs(t, r.err, net.ErrClosed) {
				return
			}
		})
	})
}

func TestIsConnectionError(t *testing.T) {
	testCases := []struct {
		Name string
		Err  error
		Want bool
	}{
		{Name: "connection reset", Err: acceptErr(syscall.ECONNRESET), Want: true},
		{Name: "connection aborted", Err: acceptErr(syscall.ECONNABORTED), Want: true},
		{Name: "connection refused", Err: acceptErr(syscall.ECONNREFUSED), Want: true},
		{Name: "too many open files", Err: acceptErr(syscall.EMFILE), Want: false},
		{Name: "out of buffer space", Err: acceptErr(syscall.ENOBUFS), Want: false},
		{Name: "plain error", Err: errors.New("oops"), Want: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			if !assert.Equal(t, testCase.Want, IsConnectionError(testCase.Err)) {
				return
			}
		})
	}
}

func TestListen(t *testing.T) {
	t.Run("will accept tcp connections", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ls, err := Listen(ctx, "tcp", "127.0.0.1:0")
		require.Nil(t, err)
		defer ls.Close()

		ch := acceptAsync(ls)

		client, err := net.Dial("tcp", ls.Addr().String())
		require.Nil(t, err)
		defer client.Close()

		r := <-ch
		if !assert.Nil(t, r.err) {
			return
		}
		defer r.conn.Close()

		_, err = client.Write([]byte("ping"))
		require.Nil(t, err)

		buf := make([]byte, 4)
		_, err = io.ReadFull(r.conn, buf)
		if !assert.Nil(t, err) {
			return
		}
		if !assert.Equal(t, "ping", string(buf)) {
			return
		}
	})

	t.Run("will allow a second listener on the same port", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		first, err := Listen(ctx, "tcp", "127.0.0.1:0")
		require.Nil(t, err)
		defer first.Close()

		second, err := Listen(ctx, "tcp", first.Addr().String())
		if !assert.Nil(t, err) {
			return
		}
		second.Close()
	})

	t.Run("will close connections over the per client limit", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ls, err := Listen(ctx, "tcp", "127.0.0.1:0", MaxConnsPerClientIP(1))
		require.Nil(t, err)
		defer ls.Close()

		ch := acceptAsync(ls)
		first, err := net.Dial("tcp", ls.Addr().String())
		require.Nil(t, err)
		defer first.Close()

		r := <-ch
		require.Nil(t, r.err)
		defer r.conn.Close()

		ch = acceptAsync(ls)
		second, err := net.Dial("tcp", ls.Addr().String())
		require.Nil(t, err)
		defer second.Close()

		second.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = second.Read(make([]byte, 1))
		if !assert.ErrorIs(t, err, io.EOF) {
			return
		}

		select {
		case <-ch:
			t.Fatal("connection over the limit was handed out")
		default:
		}

		// closing the admitted connection frees its slot
		r.conn.Close()
		third, err := net.Dial("tcp", ls.Addr().String())
		require.Nil(t, err)
		defer third.Close()

		select {
		case <-time.After(2 * time.Second):
			t.Fatal("accept did not return")
		case r := <-ch:
			if !assert.Nil(t, r.err) {
				return
			}
			r.conn.Close()
		}
	})
}
