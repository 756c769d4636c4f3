// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type helloResponse struct {
	Msg string `json:"msg"`
}

type addRequest struct {
	A int8 `json:"a"`
	B int8 `json:"b"`
}

type addResponse struct {
	Result int8 `json:"result"`
}

type overflowError struct{}

func (overflowError) Error() string { return "overflow" }

func add(_ context.Context, req addRequest) (addResponse, error) {
	sum := req.A + req.B
	if (req.A > 0 && req.B > 0 && sum < 0) || (req.A < 0 && req.B < 0 && sum >= 0) {
		return addResponse{}, overflowError{}
	}
	return addResponse{Result: sum}, nil
}

func newRequest(method, target string, body io.Reader) *Request {
	u, _ := url.Parse(target)
	return &Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
		Body:   body,
	}
}

func TestService_Call(t *testing.T) {
	t.Run("will reply with the ok envelope", func(t *testing.T) {
		t.Run("if a GET handler succeeds", func(t *testing.T) {
			svc := New(Sync(func(_ context.Context, _ Empty) (helloResponse, error) {
				return helloResponse{Msg: "hello, world"}, nil
			}))

			resp, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/", nil))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusOK, resp.Status) {
				return
			}
			if !assert.Equal(t, `{"status":"ok","result":{"msg":"hello, world"}}`, string(resp.Body)) {
				return
			}
		})

		t.Run("if a POST handler succeeds", func(t *testing.T) {
			svc := New(Sync(add))

			body := strings.NewReader(`{"a":2,"b":3}`)
			resp, err := svc.Call(context.Background(), newRequest(http.MethodPost, "/add", body))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, `{"status":"ok","result":{"result":5}}`, string(resp.Body)) {
				return
			}
		})

		t.Run("if the handler is async", func(t *testing.T) {
			svc := New(Async(func(ctx context.Context, _ Empty) Future[helloResponse] {
				return Go(ctx, func(ctx context.Context) (helloResponse, error) {
					time.Sleep(5 * time.Millisecond)
					return helloResponse{Msg: "hello, world"}, nil
				})
			}))

			resp, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/hello_async", nil))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, `{"status":"ok","result":{"msg":"hello, world"}}`, string(resp.Body)) {
				return
			}
		})

		t.Run("if the handler shares state between calls", func(t *testing.T) {
			var counter atomic.Int64
			svc := New(SyncState(&counter, func(_ context.Context, c *atomic.Int64, _ Empty) (int64, error) {
				return c.Add(1), nil
			}))

			for i := 0; i < 2; i++ {
				_, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/counter", nil))
				if !assert.Nil(t, err) {
					return
				}
			}

			resp, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/counter", nil))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, `{"status":"ok","result":3}`, string(resp.Body)) {
				return
			}
		})

		t.Run("if the handler is offloaded to a worker pool", func(t *testing.T) {
			svc := New(
				AsyncState("hi", func(ctx context.Context, s string, _ Empty) Future[string] {
					return Ready(s, nil)
				}),
				Offload(NewWorkerPool(1)),
			)

			resp, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/", nil))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, `{"status":"ok","result":"hi"}`, string(resp.Body)) {
				return
			}
		})
	})

	t.Run("will set the standard response headers", func(t *testing.T) {
		svc := New(Sync(func(_ context.Context, _ Empty) (helloResponse, error) {
			return helloResponse{Msg: "hello, world"}, nil
		}))

		resp, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/", nil))
		if !assert.Nil(t, err) {
			return
		}
		if !assert.Equal(t, "application/json", resp.Header.Get("Content-Type")) {
			return
		}
		if !assert.Equal(t, "47", resp.Header.Get("Content-Length")) {
			return
		}
		if !assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control")) {
			return
		}
		if !assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin")) {
			return
		}
	})

	t.Run("will reply with the error envelope", func(t *testing.T) {
		t.Run("if the handler returns an error", func(t *testing.T) {
			svc := New(Sync(add))

			body := strings.NewReader(`{"a":120,"b":10}`)
			resp, err := svc.Call(context.Background(), newRequest(http.MethodPut, "/add", body))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusInternalServerError, resp.Status) {
				return
			}

			var reply Reply[addResponse]
			err = json.Unmarshal(resp.Body, &reply)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.NotNil(t, reply.Err) {
				return
			}
			if !assert.Equal(t, "overflow", reply.Err.Reason) {
				return
			}
			if !assert.Equal(t, "overflow", reply.Err.Msg) {
				return
			}
		})

		t.Run("if the handler panics", func(t *testing.T) {
			svc := New(Sync(func(_ context.Context, _ Empty) (Empty, error) {
				panic("boom")
			}))

			resp, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/", nil))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusInternalServerError, resp.Status) {
				return
			}
			if !assert.Contains(t, string(resp.Body), "boom") {
				return
			}
		})

		t.Run("if the method is not supported", func(t *testing.T) {
			svc := New(Sync(add))

			resp, err := svc.Call(context.Background(), newRequest(http.MethodPatch, "/add", nil))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusMethodNotAllowed, resp.Status) {
				return
			}

			var reply Reply[addResponse]
			err = json.Unmarshal(resp.Body, &reply)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "UnknownMethod", reply.Err.Reason) {
				return
			}
		})

		t.Run("if the json body is malformed", func(t *testing.T) {
			svc := New(Sync(add))

			resp, err := svc.Call(context.Background(), newRequest(http.MethodPost, "/add", strings.NewReader(`{"a":`)))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusBadRequest, resp.Status) {
				return
			}
			if !assert.Contains(t, string(resp.Body), `"reason":"DecodeJson"`) {
				return
			}
		})

		t.Run("if the query string cannot be decoded", func(t *testing.T) {
			svc := New(Sync(add))

			resp, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/add?a=abc", nil))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusBadRequest, resp.Status) {
				return
			}
			if !assert.Contains(t, string(resp.Body), `"reason":"DecodeQs"`) {
				return
			}
		})

		t.Run("if the body exceeds the configured limit", func(t *testing.T) {
			svc := New(Sync(add), MaxBodyBytes(8))

			resp, err := svc.Call(context.Background(), newRequest(http.MethodPost, "/add", strings.NewReader(`{"a":1,"b":1}`)))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Status) {
				return
			}
			if !assert.Contains(t, string(resp.Body), `"reason":"BodyTooLarge"`) {
				return
			}
		})

		t.Run("if the result cannot be encoded", func(t *testing.T) {
			svc := New(Sync(func(_ context.Context, _ Empty) (map[string]any, error) {
				return map[string]any{"ch": make(chan int)}, nil
			}))

			resp, err := svc.Call(context.Background(), newRequest(http.MethodGet, "/", nil))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusInternalServerError, resp.Status) {
				return
			}
			if !assert.Contains(t, string(resp.Body), `"reason":"EncodeJson"`) {
				return
			}
		})
	})

	t.Run("will omit the msg field", func(t *testing.T) {
		t.Run("if debug output is disabled", func(t *testing.T) {
			svc := New(Sync(add), Debug(false))

			body := strings.NewReader(`{"a":120,"b":10}`)
			resp, err := svc.Call(context.Background(), newRequest(http.MethodPost, "/add", body))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, `{"status":"error","reason":"overflow"}`, string(resp.Body)) {
				return
			}
		})
	})

	t.Run("will return a transport error", func(t *testing.T) {
		t.Run("if the body cannot be read", func(t *testing.T) {
			svc := New(Sync(add))

			readErr := errors.New("connection reset")
			body := io.MultiReader(strings.NewReader(`{"a":`), &errReader{err: readErr})
			_, err := svc.Call(context.Background(), newRequest(http.MethodPost, "/add", body))
			if !assert.True(t, IsTransport(err)) {
				return
			}
			if !assert.ErrorIs(t, err, readErr) {
				return
			}
		})

		t.Run("if the context is cancelled while awaiting the handler", func(t *testing.T) {
			release := make(chan struct{})
			defer close(release)

			svc := New(Async(func(ctx context.Context, _ Empty) Future[Empty] {
				return Go(ctx, func(context.Context) (Empty, error) {
					<-release
					return Empty{}, nil
				})
			}))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := svc.Call(ctx, newRequest(http.MethodGet, "/", nil))
			if !assert.True(t, IsTransport(err)) {
				return
			}
			if !assert.ErrorIs(t, err, context.Canceled) {
				return
			}
		})
	})
}

type errReader struct {
	err error
}

func (r *errReader) Read([]byte) (int, error) {
	return 0, r.err
}

func TestResponse_WriteHTTP(t *testing.T) {
	t.Run("will copy status headers and body", func(t *testing.T) {
		resp := Encode(Ok(helloResponse{Msg: "hi"}), http.StatusOK, true)

		w := httptest.NewRecorder()
		err := resp.WriteHTTP(w)
		if !assert.Nil(t, err) {
			return
		}
		if !assert.Equal(t, http.StatusOK, w.Code) {
			return
		}
		if !assert.Equal(t, "application/json", w.Header().Get("Content-Type")) {
			return
		}
		if !assert.Equal(t, `{"status":"ok","result":{"msg":"hi"}}`, w.Body.String()) {
			return
		}
	})
}

func TestFromHTTP(t *testing.T) {
	t.Run("will keep the method, url and body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/add?x=1", bytes.NewBufferString("{}"))

		req := FromHTTP(r)
		if !assert.Equal(t, http.MethodPost, req.Method) {
			return
		}
		if !assert.Equal(t, "/add", req.Path()) {
			return
		}
		if !assert.Equal(t, "x=1", req.URL.RawQuery) {
			return
		}

		b, err := io.ReadAll(req.Body)
		if !assert.Nil(t, err) {
			return
		}
		if !assert.Equal(t, "{}", string(b)) {
			return
		}
	})
}
