// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"context"
	"runtime"

	"github.com/z5labs/oneshot/internal/try"
	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many offloaded functions run at once.
type WorkerPool struct {
	sem *semaphore.Weighted
}

// NewWorkerPool returns a pool with n slots. If n < 1, the
// number of CPUs is used.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = runtime.NumCPU()
	}
	return &WorkerPool{
		sem: semaphore.NewWeighted(int64(n)),
	}
}

// Submit blocks until a slot is free or ctx is done, then runs f on its own goroutine.
func (p *WorkerPool) Submit(ctx context.Context, f func()) error {
	err := p.sem.Acquire(ctx, 1)
	if err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		f()
	}()
	return nil
}

// Spawn is like [Go] but runs f on p. If no slot can be acquired
// before ctx is done the returned [Future] resolves to ctx.Err().
func Spawn[T any](ctx context.Context, p *WorkerPool, f func(context.Context) (T, error)) Future[T] {
	fut := &future[T]{done: make(chan struct{})}
	err := p.Submit(ctx, func() {
		v, err := call(ctx, f)
		fut.resolve(v, err)
	})
	if err != nil {
		var zero T
		fut.resolve(zero, err)
	}
	return fut
}

func call[T any](ctx context.Context, f func(context.Context) (T, error)) (v T, err error) {
	defer try.Recover(&err)

	return f(ctx)
}
