// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mux

import (
	"fmt"
	"sort"
	"strings"

	"github.com/armon/go-radix"
)

// Index answers longest prefix queries over a fixed set of route keys.
type Index interface {
	// LongestPrefix returns the position, in the keys the Index was
	// built from, of the longest key which is a prefix of query.
	LongestPrefix(query string) (int, bool)
}

// IndexBuilder builds an [Index] over keys. The keys are unique
// and sorted in ascending order.
type IndexBuilder func(keys []string) Index

type linearIndex []string

// LinearIndex checks every key on each lookup. It needs no extra
// memory and is fine for small tables.
func LinearIndex(keys []string) Index {
	return linearIndex(keys)
}

func (idx linearIndex) LongestPrefix(query string) (int, bool) {
	best := -1
	for i, key := range idx {
		if !strings.HasPrefix(query, key) {
			continue
		}
		if best < 0 || len(key) > len(idx[best]) {
			best = i
		}
	}
	return best, best >= 0
}

type sortedIndex []string

// SortedIndex binary searches the sorted keys for the greatest key
// not after the query. If that key is not a prefix of the query, the
// query is cut back to their common prefix and the search repeats.
func SortedIndex(keys []string) Index {
	return sortedIndex(keys)
}

func (idx sortedIndex) LongestPrefix(query string) (int, bool) {
	q := query
	for {
		i := sort.Search(len(idx), func(i int) bool {
			return idx[i] > q
		}) - 1
		if i < 0 {
			return -1, false
		}

		key := idx[i]
		if strings.HasPrefix(q, key) {
			return i, true
		}

		// no key longer than the common prefix can be a prefix of q,
		// otherwise it would sort between key and q
		q = q[:commonPrefixLen(key, q)]
	}
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

type radixIndex struct {
	tree *radix.Tree
}

// RadixIndex stores the keys in a radix tree.
func RadixIndex(keys []string) Index {
	m := make(map[string]any, len(keys))
	for i, key := range keys {
		m[key] = i
	}
	return radixIndex{tree: radix.NewFromMap(m)}
}

func (idx radixIndex) LongestPrefix(query string) (int, bool) {
	_, v, found := idx.tree.LongestPrefix(query)
	if !found {
		return -1, false
	}
	return v.(int), true
}

// UnknownIndexError
type UnknownIndexError struct {
	Name string
}

// Error implements the [builtin.error] interface.
func (e UnknownIndexError) Error() string {
	return fmt.Sprintf("unknown route index: %s", e.Name)
}

// ParseIndex maps linear, sorted or radix to its [IndexBuilder].
func ParseIndex(name string) (IndexBuilder, error) {
	switch strings.ToLower(name) {
	case "linear":
		return LinearIndex, nil
	case "sorted":
		return SortedIndex, nil
	case "", "radix":
		return RadixIndex, nil
	default:
		return nil, UnknownIndexError{Name: name}
	}
}
