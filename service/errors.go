// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorises the failures produced by this package.
type Kind int

const (
	KindDecodeQs Kind = iota + 1
	KindDecodeJson
	KindEncodeJson
	KindBodyTooLarge
	KindUnknownMethod
	KindInvalidEndpoint
	KindTransport
)

// String returns the stable reason string clients branch on.
func (k Kind) String() string {
	switch k {
	case KindDecodeQs:
		return "DecodeQs"
	case KindDecodeJson:
		return "DecodeJson"
	case KindEncodeJson:
		return "EncodeJson"
	case KindBodyTooLarge:
		return "BodyTooLarge"
	case KindUnknownMethod:
		return "UnknownMethod"
	case KindInvalidEndpoint:
		return "InvalidEndpoint"
	case KindTransport:
		return "Transport"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Reasoner is implemented by errors which carry a short, stable
// category string separate from their full diagnostic message.
type Reasoner interface {
	Reason() string
}

// StatusCoder is implemented by errors which want to control
// the HTTP status code of the error reply.
type StatusCoder interface {
	StatusCode() int
}

// Error is returned for every failure which happens outside of
// the wrapped handler, e.g. decoding, encoding and routing.
type Error struct {
	Kind  Kind
	Cause error
}

// Error implements the [builtin.error] interface.
func (e Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e Error) Unwrap() error {
	return e.Cause
}

// Reason implements the [Reasoner] interface.
func (e Error) Reason() string {
	return e.Kind.String()
}

// StatusCode implements the [StatusCoder] interface.
func (e Error) StatusCode() int {
	switch e.Kind {
	case KindDecodeQs, KindDecodeJson:
		return http.StatusBadRequest
	case KindBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnknownMethod:
		return http.StatusMethodNotAllowed
	case KindInvalidEndpoint:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsTransport reports whether err stems from the underlying connection
// rather than from the content of the request.
func IsTransport(err error) bool {
	var serr Error
	return errors.As(err, &serr) && serr.Kind == KindTransport
}

// BodyTooLargeError
type BodyTooLargeError struct {
	Limit int64
}

// Error implements the [builtin.error] interface.
func (e BodyTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

// UnknownMethodError
type UnknownMethodError struct {
	Method string
}

// Error implements the [builtin.error] interface.
func (e UnknownMethodError) Error() string {
	return fmt.Sprintf("unexpected method: %s", e.Method)
}

// NoRouteError
type NoRouteError struct {
	Method string
	Path   string
}

// Error implements the [builtin.error] interface.
func (e NoRouteError) Error() string {
	return fmt.Sprintf("no route matched: %s %s", e.Method, e.Path)
}

func reasonOf(err error) string {
	var r Reasoner
	if errors.As(err, &r) {
		return r.Reason()
	}
	return err.Error()
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
