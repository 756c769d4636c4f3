// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package try

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func TestRecover(t *testing.T) {
	t.Run("will update the error ref value", func(t *testing.T) {
		t.Run("if a panic is successfully recovered from and the ref is set to nil", func(t *testing.T) {
			f := func() (err error) {
				defer Recover(&err)
				panic("hello world")
			}

			err := f()

			var perr PanicError
			if !assert.ErrorAs(t, err, &perr) {
				return
			}
			if !assert.Equal(t, "hello world", perr.Value) {
				return
			}
			if !assert.Nil(t, perr.Unwrap()) {
				return
			}
		})

		t.Run("if a panic is successfully recovered from and the ref is set to a non-nil value", func(t *testing.T) {
			funcErr := errors.New("error value")
			panicErr := errors.New("panic error")
			f := func() (err error) {
				defer Recover(&err)
				err = funcErr
				panic(panicErr)
			}

			err := f()

			if !assert.ErrorIs(t, err, funcErr) {
				return
			}
			if !assert.ErrorIs(t, err, panicErr) {
				return
			}
		})
	})

	t.Run("will not touch the error ref value", func(t *testing.T) {
		t.Run("if no panic occurs", func(t *testing.T) {
			funcErr := errors.New("error value")
			f := func() (err error) {
				defer Recover(&err)
				return funcErr
			}

			err := f()

			assert.Equal(t, funcErr, err)
		})
	})
}

func TestClose(t *testing.T) {
	t.Run("will set the error ref value", func(t *testing.T) {
		t.Run("if the closer fails and the ref is nil", func(t *testing.T) {
			closeErr := errors.New("close failed")
			f := func() (err error) {
				defer Close(&err, closerFunc(func() error { return closeErr }))
				return nil
			}

			err := f()

			var cerr CloseError
			if !assert.ErrorAs(t, err, &cerr) {
				return
			}
			if !assert.ErrorIs(t, err, closeErr) {
				return
			}
		})

		t.Run("if the closer fails and the ref is already set", func(t *testing.T) {
			funcErr := errors.New("func failed")
			closeErr := errors.New("close failed")
			f := func() (err error) {
				defer Close(&err, closerFunc(func() error { return closeErr }))
				return funcErr
			}

			err := f()

			if !assert.ErrorIs(t, err, funcErr) {
				return
			}
			if !assert.ErrorIs(t, err, closeErr) {
				return
			}
		})
	})

	t.Run("will ignore a nil closer", func(t *testing.T) {
		f := func() (err error) {
			defer Close(&err, nil)
			return nil
		}

		assert.Nil(t, f())
	})
}
