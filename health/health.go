// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health reports whether a server should receive traffic.
package health

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/z5labs/oneshot/service"
)

// Metric represents anything that can report its health status.
type Metric interface {
	Healthy(context.Context) bool
}

// Flag is a [Metric] that is set explicitly.
// The zero value is unhealthy.
type Flag struct {
	healthy atomic.Bool
}

// Set
func (f *Flag) Set(healthy bool) {
	f.healthy.Store(healthy)
}

// Healthy implements the [Metric] interface.
func (f *Flag) Healthy(context.Context) bool {
	return f.healthy.Load()
}

type and []Metric

// And is healthy only if every metric is.
func And(metrics ...Metric) Metric {
	return and(metrics)
}

func (ms and) Healthy(ctx context.Context) bool {
	for _, m := range ms {
		if !m.Healthy(ctx) {
			return false
		}
	}
	return true
}

// UnhealthyError is replied with while a [Metric] reports unhealthy.
type UnhealthyError struct{}

// Error implements the [builtin.error] interface.
func (UnhealthyError) Error() string {
	return "service is unhealthy"
}

// Reason
func (UnhealthyError) Reason() string {
	return "Unhealthy"
}

// StatusCode
func (UnhealthyError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// Service replies {"status":"ok","result":true} while m is healthy and
// a 503 error reply otherwise.
func Service(m Metric, opts ...service.Option) service.Service {
	return service.New(service.Sync(func(ctx context.Context, _ service.Empty) (bool, error) {
		if !m.Healthy(ctx) {
			return false, UnhealthyError{}
		}
		return true, nil
	}), opts...)
}
