// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import "context"

// Future is a value which becomes available at some later point.
type Future[T any] interface {
	// Await blocks until the value is resolved or ctx is done.
	Await(context.Context) (T, error)
}

type result[T any] struct {
	v   T
	err error
}

type future[T any] struct {
	done chan struct{}
	res  result[T]
}

func (f *future[T]) resolve(v T, err error) {
	f.res = result[T]{v: v, err: err}
	close(f.done)
}

// Await implements the [Future] interface.
func (f *future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-f.done:
		return f.res.v, f.res.err
	}
}

// Go runs f on a new goroutine. Panics are recovered into the
// error of the returned [Future].
func Go[T any](ctx context.Context, f func(context.Context) (T, error)) Future[T] {
	fut := &future[T]{done: make(chan struct{})}
	go func() {
		v, err := call(ctx, f)
		fut.resolve(v, err)
	}()
	return fut
}

// Ready returns an already resolved [Future].
func Ready[T any](v T, err error) Future[T] {
	fut := &future[T]{done: make(chan struct{})}
	fut.resolve(v, err)
	return fut
}
