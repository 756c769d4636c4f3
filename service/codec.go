// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes caps how much of a request body is buffered
// before decoding fails with BodyTooLarge.
const DefaultMaxBodyBytes int64 = 4 << 20

const readChunkSize = 32 << 10

// Decode turns a transport level request into Req. GET and DELETE requests
// are decoded from the URL query string, POST and PUT requests from a JSON
// body of at most maxBody bytes. Any other method fails with UnknownMethod.
func Decode[Req any](r *Request, maxBody int64) (Req, error) {
	var req Req
	switch r.Method {
	case http.MethodGet, http.MethodDelete:
		var query string
		if r.URL != nil {
			query = r.URL.RawQuery
		}
		err := DecodeQuery(query, &req)
		if err != nil {
			return req, Error{Kind: KindDecodeQs, Cause: err}
		}
		return req, nil
	case http.MethodPost, http.MethodPut:
		b, err := ReadBody(r.Body, maxBody)
		if err != nil {
			return req, err
		}
		// an empty body leaves req as its zero value
		if len(bytes.TrimSpace(b)) == 0 {
			return req, nil
		}
		err = json.Unmarshal(b, &req)
		if err != nil {
			return req, Error{Kind: KindDecodeJson, Cause: err}
		}
		return req, nil
	default:
		return req, Error{Kind: KindUnknownMethod, Cause: UnknownMethodError{Method: r.Method}}
	}
}

// ReadBody accumulates r chunk by chunk. As soon as more than max bytes
// have been read it stops and fails with BodyTooLarge. Read failures
// are reported as Transport errors.
func ReadBody(r io.Reader, max int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}

	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if int64(buf.Len()) > max {
				return nil, Error{Kind: KindBodyTooLarge, Cause: BodyTooLargeError{Limit: max}}
			}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, Error{Kind: KindTransport, Cause: err}
		}
	}
}
