// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"

	"github.com/z5labs/oneshot/config/key"
)

// Env represents a Source where its underlying values
// are extracted from environment variables.
type Env struct {
	environ func() []string
	prefix  string
}

// EnvOption
type EnvOption func(*Env)

// Prefix only keeps the variables starting with p. The prefix is removed,
// the rest is lower cased and split at its first underscore into a section
// and a key, so with the prefix "ONESHOT_" the variable
// ONESHOT_HTTP_READ_HEADER_TIMEOUT sets http.read_header_timeout.
func Prefix(p string) EnvOption {
	return func(e *Env) {
		e.prefix = p
	}
}

// Environ replaces [os.Environ] as the source of variables.
func Environ(f func() []string) EnvOption {
	return func(e *Env) {
		e.environ = f
	}
}

// FromEnv returns a Source which will apply its config
// from the environment variables available to the
// current process.
func FromEnv(opts ...EnvOption) Env {
	e := Env{
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Apply implements the [Source] interface.
func (src Env) Apply(store Store) error {
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if src.prefix == "" {
			err := store.Set(key.Name(k), v)
			if err != nil {
				return err
			}
			continue
		}

		name, ok := strings.CutPrefix(k, src.prefix)
		if !ok || name == "" {
			continue
		}
		err := store.Set(envKey(name), v)
		if err != nil {
			return err
		}
	}
	return nil
}

func envKey(name string) key.Chain {
	name = strings.ToLower(name)
	section, rest, ok := strings.Cut(name, "_")
	if !ok || rest == "" {
		return key.Chain{key.Name(name)}
	}
	return key.Chain{key.Name(section), key.Name(rest)}
}
