// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/z5labs/oneshot"
	"github.com/z5labs/oneshot/health"
	"github.com/z5labs/oneshot/mux"
	"github.com/z5labs/oneshot/service"
)

type appConfig struct {
	Greeting struct {
		Delay time.Duration `config:"delay"`
	} `config:"greeting"`
}

type addRequest struct {
	A int8 `json:"a"`
	B int8 `json:"b"`
}

type addResponse struct {
	Result int8 `json:"result"`
}

var errOverflow = errors.New("overflow")

func add(_ context.Context, req addRequest) (addResponse, error) {
	sum := int16(req.A) + int16(req.B)
	if sum > math.MaxInt8 || sum < math.MinInt8 {
		return addResponse{}, errOverflow
	}
	return addResponse{Result: int8(sum)}, nil
}

type helloResponse struct {
	Msg string `json:"msg"`
}

func hello(context.Context, service.Empty) (helloResponse, error) {
	return helloResponse{Msg: "hello, world"}, nil
}

type counterResponse struct {
	Counter int64 `json:"counter"`
}

// count replies with the number of calls before this one.
func count(_ context.Context, n *atomic.Int64, _ service.Empty) (counterResponse, error) {
	return counterResponse{Counter: n.Add(1) - 1}, nil
}

type echoResponse struct {
	Rest string `json:"rest"`
}

func echo(debug bool) service.Func {
	return func(_ context.Context, req *service.Request) (*service.Response, error) {
		rest := strings.TrimPrefix(req.Path(), "/echo/")
		return service.Encode(service.Ok(echoResponse{Rest: rest}), http.StatusOK, debug), nil
	}
}

func register(ctx context.Context, s oneshot.Setup, table *mux.Table) error {
	var cfg appConfig
	cfg.Greeting.Delay = time.Second
	err := s.Unmarshal(&cfg)
	if err != nil {
		return err
	}

	opts := s.ServiceOptions()
	greetAsync := func(ctx context.Context, req service.Empty) service.Future[helloResponse] {
		return service.Go(ctx, func(ctx context.Context) (helloResponse, error) {
			select {
			case <-ctx.Done():
				return helloResponse{}, ctx.Err()
			case <-time.After(cfg.Greeting.Delay):
			}
			return hello(ctx, req)
		})
	}

	adder := service.New(service.Sync(add), opts...)
	routes := []struct {
		method  string
		matcher mux.Matcher
		svc     service.Service
	}{
		{method: http.MethodGet, matcher: mux.Exact("/"), svc: service.New(service.Sync(hello), opts...)},
		{method: http.MethodPut, matcher: mux.Exact("/add"), svc: adder},
		{method: http.MethodPost, matcher: mux.Exact("/add"), svc: adder},
		{method: http.MethodGet, matcher: mux.Exact("/counter"), svc: service.New(service.SyncState(new(atomic.Int64), count), opts...)},
		{method: http.MethodGet, matcher: mux.Exact("/hello_async"), svc: service.New(service.Async(greetAsync), opts...)},
		{method: http.MethodGet, matcher: mux.Prefix("/echo/"), svc: echo(s.Config.Service.Debug)},
		{method: http.MethodGet, matcher: mux.Exact("/health/liveness"), svc: health.Service(health.And(), opts...)},
		{method: http.MethodGet, matcher: mux.Exact("/health/readiness"), svc: health.Service(s.Ready, opts...)},
	}
	for _, r := range routes {
		err := table.Handle(r.method, r.matcher, r.svc)
		if err != nil {
			return err
		}
		s.Log.InfoContext(ctx, "registered route", "method", r.method, "path", r.matcher.String())
	}
	return nil
}
