// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package joint runs a fixed set of tasks concurrently and waits for all of them.
package joint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/z5labs/oneshot/internal/try"
)

// Task is a single unit of work. The context passed to a Task is
// cancelled as soon as any sibling Task fails.
type Task struct {
	Name string
	Run  func(context.Context) error
}

// TaskError labels the failure of a named Task.
type TaskError struct {
	Name  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e TaskError) Error() string {
	return fmt.Sprintf("%s task failed: %s", e.Name, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e TaskError) Unwrap() error {
	return e.Cause
}

// Wait runs every task on its own goroutine and blocks until all of them
// have returned. The first failure cancels the context seen by the others.
// Panics are recovered into errors. All failures are joined together.
func Wait(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))

	for _, task := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()

			err := run(ctx, t)
			if err == nil {
				return
			}
			err = TaskError{Name: t.Name, Cause: err}
			errCh <- err
			cancel(err)
		}(task)
	}

	wg.Wait()
	close(errCh)

	var jerr error
	for err := range errCh {
		jerr = errors.Join(jerr, err)
	}
	return jerr
}

func run(ctx context.Context, t Task) (err error) {
	defer try.Recover(&err)

	return t.Run(ctx)
}
