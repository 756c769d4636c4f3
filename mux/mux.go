// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package mux resolves a request method and path to a [service.Service].
//
// Routes are registered during setup and the [Table] is then frozen with
// [Table.Build]. A built Table is never mutated again so it can be shared
// by every connection without locking.
//
// Each route is stored under the key method+"?"+path, with a trailing "?"
// for exact routes. A request is looked up with the key method+"?"+path+"?"
// and the longest registered key which is a prefix of it wins. Exact
// routes therefore only match identical paths and always beat a prefix
// route for the same path.
package mux

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/z5labs/oneshot/service"
)

const sep = "?"

// ErrTableBuilt is returned when a built table is modified.
var ErrTableBuilt = errors.New("mux: route table already built")

// InvalidPatternError
type InvalidPatternError struct {
	Method  string
	Pattern string
	Reason  string
}

// Error implements the [builtin.error] interface.
func (e InvalidPatternError) Error() string {
	return fmt.Sprintf("mux: invalid route %s %q: %s", e.Method, e.Pattern, e.Reason)
}

// Matcher decides which paths a route applies to.
type Matcher struct {
	Path   string
	Prefix bool
}

// Exact matches only the given path.
func Exact(path string) Matcher {
	return Matcher{Path: path}
}

// Prefix matches every path starting with the given string.
func Prefix(path string) Matcher {
	return Matcher{Path: path, Prefix: true}
}

// String implements the [fmt.Stringer] interface.
func (m Matcher) String() string {
	if m.Prefix {
		return m.Path + "*"
	}
	return m.Path
}

func (m Matcher) key(method string) string {
	if m.Prefix {
		return method + sep + m.Path
	}
	return method + sep + m.Path + sep
}

// Route
type Route struct {
	Method  string
	Matcher Matcher
	Service service.Service
}

// Option
type Option func(*Table)

// WithIndex selects the lookup structure built by [Table.Build].
// The default is [RadixIndex].
func WithIndex(b IndexBuilder) Option {
	return func(t *Table) {
		t.newIndex = b
	}
}

// Table
type Table struct {
	newIndex IndexBuilder
	pending  map[string]Route

	built  bool
	routes []Route
	index  Index
}

// New
func New(opts ...Option) *Table {
	t := &Table{
		newIndex: RadixIndex,
		pending:  make(map[string]Route),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register is shorthand for [Table.Handle] with an [Exact] or [Prefix] matcher.
func (t *Table) Register(method, pattern string, isPrefix bool, svc service.Service) error {
	return t.Handle(method, Matcher{Path: pattern, Prefix: isPrefix}, svc)
}

// Handle adds a route. Registering the same method and matcher
// twice replaces the earlier route.
func (t *Table) Handle(method string, m Matcher, svc service.Service) error {
	if t.built {
		return ErrTableBuilt
	}
	if method == "" {
		return InvalidPatternError{Method: method, Pattern: m.Path, Reason: "method must not be empty"}
	}
	if strings.Contains(method, sep) || strings.Contains(m.Path, sep) {
		return InvalidPatternError{Method: method, Pattern: m.Path, Reason: "must not contain " + sep}
	}
	if svc == nil {
		return InvalidPatternError{Method: method, Pattern: m.Path, Reason: "service must not be nil"}
	}

	t.pending[m.key(method)] = Route{
		Method:  method,
		Matcher: m,
		Service: svc,
	}
	return nil
}

// Build freezes the table and builds its index.
func (t *Table) Build() error {
	if t.built {
		return ErrTableBuilt
	}

	keys := make([]string, 0, len(t.pending))
	for key := range t.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	routes := make([]Route, len(keys))
	for i, key := range keys {
		routes[i] = t.pending[key]
	}

	t.routes = routes
	t.index = t.newIndex(keys)
	t.pending = nil
	t.built = true
	return nil
}

// Built reports whether [Table.Build] has been called.
func (t *Table) Built() bool {
	return t.built
}

// Resolve returns the most specific route for the method and path. It
// always reports false before the table is built.
func (t *Table) Resolve(method, path string) (service.Service, bool) {
	if !t.built {
		return nil, false
	}

	// a literal separator in the path would let an exact key match
	// a longer path so it is compared in its escaped form
	path = strings.ReplaceAll(path, sep, "%3F")

	i, ok := t.index.LongestPrefix(method + sep + path + sep)
	if !ok {
		return nil, false
	}
	return t.routes[i].Service, true
}

// Routes returns the registered routes ordered by key.
func (t *Table) Routes() []Route {
	if !t.built {
		return nil
	}
	routes := make([]Route, len(t.routes))
	copy(routes, t.routes)
	return routes
}
