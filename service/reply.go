// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const (
	statusOk    = "ok"
	statusError = "error"
)

// ErrorBody is the error half of a [Reply].
type ErrorBody struct {
	// Reason is the short category of the failure.
	Reason string `json:"reason"`

	// Msg is the full diagnostic. It is empty when debug output is disabled.
	Msg string `json:"msg,omitempty"`
}

// Reply is the uniform JSON envelope every response body is wrapped in.
//
//	{"status":"ok","result":<T>}
//	{"status":"error","reason":"<category>","msg":"<diagnostic>"}
type Reply[T any] struct {
	Result T

	// Err is nil for successful replies.
	Err *ErrorBody
}

// Ok wraps a successful result.
func Ok[T any](v T) Reply[T] {
	return Reply[T]{Result: v}
}

// Fail wraps err. The msg field is only populated if debug is true.
func Fail[T any](err error, debug bool) Reply[T] {
	body := &ErrorBody{
		Reason: reasonOf(err),
	}
	if debug {
		body.Msg = fmt.Sprintf("%+v", err)
	}
	return Reply[T]{Err: body}
}

type okReply[T any] struct {
	Status string `json:"status"`
	Result T      `json:"result"`
}

type errReply struct {
	Status string `json:"status"`
	ErrorBody
}

// MarshalJSON implements the [json.Marshaler] interface.
func (r Reply[T]) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(errReply{Status: statusError, ErrorBody: *r.Err})
	}
	return json.Marshal(okReply[T]{Status: statusOk, Result: r.Result})
}

// UnknownStatusError is returned when decoding a reply whose
// status field is neither "ok" nor "error".
type UnknownStatusError struct {
	Status string
}

// Error implements the [builtin.error] interface.
func (e UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown reply status: %q", e.Status)
}

// UnmarshalJSON implements the [json.Unmarshaler] interface.
func (r *Reply[T]) UnmarshalJSON(b []byte) error {
	var raw struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
		Reason string          `json:"reason"`
		Msg    string          `json:"msg"`
	}
	err := json.Unmarshal(b, &raw)
	if err != nil {
		return err
	}

	switch raw.Status {
	case statusOk:
		var v T
		if len(raw.Result) > 0 {
			err = json.Unmarshal(raw.Result, &v)
			if err != nil {
				return err
			}
		}
		*r = Reply[T]{Result: v}
		return nil
	case statusError:
		*r = Reply[T]{Err: &ErrorBody{Reason: raw.Reason, Msg: raw.Msg}}
		return nil
	default:
		return UnknownStatusError{Status: raw.Status}
	}
}

// Encode serializes the reply into a complete JSON response. It never fails:
// if the reply cannot be serialized a fresh EncodeJson error reply is
// produced in its place.
func Encode[T any](reply Reply[T], status int, debug bool) *Response {
	b, err := json.Marshal(reply)
	if err == nil {
		return jsonResponse(status, b)
	}

	encErr := Error{Kind: KindEncodeJson, Cause: err}
	b, err = json.Marshal(Fail[struct{}](encErr, debug))
	if err != nil {
		// an ErrorBody only holds strings so this should be unreachable
		b = []byte(`{"status":"error","reason":"EncodeJson"}`)
	}
	return jsonResponse(encErr.StatusCode(), b)
}

// ErrorResponse encodes err as an error reply. The status code is taken
// from err if it implements [StatusCoder], otherwise it defaults to 500.
func ErrorResponse(err error, debug bool) *Response {
	return Encode(Fail[struct{}](err, debug), statusOf(err), debug)
}

// InvalidEndpoint is the reply sent when no route matched a request.
func InvalidEndpoint(method, path string, debug bool) *Response {
	return ErrorResponse(Error{
		Kind:  KindInvalidEndpoint,
		Cause: NoRouteError{Method: method, Path: path},
	}, debug)
}

func jsonResponse(status int, body []byte) *Response {
	h := make(http.Header, 4)
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Access-Control-Allow-Origin", "*")
	return &Response{
		Status: status,
		Header: h,
		Body:   body,
	}
}
