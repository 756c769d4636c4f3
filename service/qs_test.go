// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeQuery(t *testing.T) {
	type inner struct {
		D int    `json:"d"`
		E string `json:"e"`
	}

	type request struct {
		A int      `json:"a"`
		B []string `json:"b"`
		C inner    `json:"c"`
		E []string `json:"e"`
		F bool     `json:"f"`
	}

	t.Run("will decode", func(t *testing.T) {
		testCases := []struct {
			Name  string
			Query string
			Want  request
		}{
			{
				Name:  "plain values",
				Query: "a=1&f=true",
				Want:  request{A: 1, F: true},
			},
			{
				Name:  "repeated keys into a slice",
				Query: "b=x&b=y",
				Want:  request{B: []string{"x", "y"}},
			},
			{
				Name:  "empty bracket keys into a slice",
				Query: "b[]=x&b[]=y",
				Want:  request{B: []string{"x", "y"}},
			},
			{
				Name:  "indexed keys into an ordered slice",
				Query: "e[1]=second&e[0]=first",
				Want:  request{E: []string{"first", "second"}},
			},
			{
				Name:  "nested objects",
				Query: "c[d]=2&c[e]=hi",
				Want:  request{C: inner{D: 2, E: "hi"}},
			},
			{
				Name:  "escaped brackets",
				Query: "c%5Bd%5D=3",
				Want:  request{C: inner{D: 3}},
			},
			{
				Name:  "an empty query",
				Query: "",
				Want:  request{},
			},
		}

		for _, testCase := range testCases {
			t.Run(testCase.Name, func(t *testing.T) {
				var got request
				err := DecodeQuery(testCase.Query, &got)
				if !assert.Nil(t, err) {
					return
				}
				if !assert.Equal(t, testCase.Want, got) {
					return
				}
			})
		}
	})

	t.Run("will decode into a map", func(t *testing.T) {
		var got map[string]any
		err := DecodeQuery("a[b][c]=1&x[]=y", &got)
		if !assert.Nil(t, err) {
			return
		}

		want := map[string]any{
			"a": map[string]any{"b": map[string]any{"c": "1"}},
			"x": []any{"y"},
		}
		if !assert.Equal(t, want, got) {
			return
		}
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if a key is missing its closing bracket", func(t *testing.T) {
			var got request
			err := DecodeQuery("c[d=1", &got)

			var kerr InvalidQueryKeyError
			if !assert.ErrorAs(t, err, &kerr) {
				return
			}
		})

		t.Run("if a key has no name", func(t *testing.T) {
			var got request
			err := DecodeQuery("[d]=1", &got)

			var kerr InvalidQueryKeyError
			if !assert.ErrorAs(t, err, &kerr) {
				return
			}
		})

		t.Run("if a key is both a value and a container", func(t *testing.T) {
			var got request
			err := DecodeQuery("c=1&c[d]=2", &got)

			var cerr ConflictingQueryKeyError
			if !assert.ErrorAs(t, err, &cerr) {
				return
			}
		})

		t.Run("if a value does not fit the field type", func(t *testing.T) {
			var got request
			err := DecodeQuery("a=abc", &got)
			if !assert.NotNil(t, err) {
				return
			}
		})
	})
}
