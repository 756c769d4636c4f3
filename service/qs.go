// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// InvalidQueryKeyError
type InvalidQueryKeyError struct {
	Key string
}

// Error implements the [builtin.error] interface.
func (e InvalidQueryKeyError) Error() string {
	return fmt.Sprintf("invalid query key: %q", e.Key)
}

// ConflictingQueryKeyError occurs when a key is used both as a
// scalar value and as a container, e.g. "a=1&a[b]=2".
type ConflictingQueryKeyError struct {
	Key string
}

// Error implements the [builtin.error] interface.
func (e ConflictingQueryKeyError) Error() string {
	return fmt.Sprintf("query key used as both value and container: %q", e.Key)
}

// DecodeQuery decodes a form encoded query string into v, which must be
// a pointer. Besides plain key=value pairs it understands the bracket
// conventions for nested values:
//
//	a[]=1&a[]=2     -> {"a": ["1", "2"]}
//	a[0]=1&a[1]=2   -> {"a": ["1", "2"]}
//	a[b][c]=1       -> {"a": {"b": {"c": "1"}}}
//
// Field names are taken from json struct tags and scalar strings are
// weakly converted to the field types.
func DecodeQuery(query string, v any) error {
	values, err := url.ParseQuery(query)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := make(map[string]any, len(values))
	for _, k := range keys {
		path, err := splitQueryKey(k)
		if err != nil {
			return err
		}
		for _, val := range values[k] {
			err = insertQueryValue(root, k, path, val)
			if err != nil {
				return err
			}
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           v,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(normalizeQueryValue(root))
}

// splitQueryKey splits "a[b][]" into ["a", "b", ""].
func splitQueryKey(key string) ([]string, error) {
	name, rest, found := strings.Cut(key, "[")
	if name == "" {
		return nil, InvalidQueryKeyError{Key: key}
	}
	if !found {
		return []string{name}, nil
	}

	path := []string{name}
	rest = "[" + rest
	for len(rest) > 0 {
		if rest[0] != '[' {
			return nil, InvalidQueryKeyError{Key: key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, InvalidQueryKeyError{Key: key}
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}

	// "[]" may only terminate a key
	for _, seg := range path[1 : len(path)-1] {
		if seg == "" {
			return nil, InvalidQueryKeyError{Key: key}
		}
	}
	return path, nil
}

func insertQueryValue(node map[string]any, key string, path []string, val string) error {
	head := path[0]
	if len(path) == 1 {
		switch x := node[head].(type) {
		case nil:
			node[head] = val
		case string:
			node[head] = []any{x, val}
		case []any:
			node[head] = append(x, val)
		default:
			return ConflictingQueryKeyError{Key: key}
		}
		return nil
	}

	if path[1] == "" {
		switch x := node[head].(type) {
		case nil:
			node[head] = []any{val}
		case []any:
			node[head] = append(x, val)
		default:
			return ConflictingQueryKeyError{Key: key}
		}
		return nil
	}

	child, ok := node[head]
	if !ok {
		child = make(map[string]any)
		node[head] = child
	}
	m, ok := child.(map[string]any)
	if !ok {
		return ConflictingQueryKeyError{Key: key}
	}
	return insertQueryValue(m, key, path[1:], val)
}

// normalizeQueryValue converts maps whose keys are all array
// indexes into slices ordered by index.
func normalizeQueryValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = normalizeQueryValue(child)
	}
	if len(m) == 0 {
		return m
	}

	type indexed struct {
		idx int
		key string
	}
	idxs := make([]indexed, 0, len(m))
	for k := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return m
		}
		idxs = append(idxs, indexed{idx: i, key: k})
	}
	slices.SortFunc(idxs, func(a, b indexed) int {
		return a.idx - b.idx
	})

	xs := make([]any, len(idxs))
	for i, x := range idxs {
		xs[i] = m[x.key]
	}
	return xs
}
