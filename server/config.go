// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"log/slog"
	"time"

	"github.com/z5labs/oneshot/listener"
	"github.com/z5labs/oneshot/logging"
	"github.com/z5labs/oneshot/mux"
	"github.com/z5labs/oneshot/service"
)

// Config
type Config struct {
	HTTP struct {
		Addr              string        `config:"addr"`
		ReadHeaderTimeout time.Duration `config:"read_header_timeout"`
		IdleTimeout       time.Duration `config:"idle_timeout"`

		// ShutdownTimeout bounds how long open connections may drain
		// before they are closed. Zero waits indefinitely.
		ShutdownTimeout time.Duration `config:"shutdown_timeout"`

		// H2C accepts HTTP/2 without TLS next to HTTP/1.1.
		H2C bool `config:"h2c"`
	} `config:"http"`

	Yamux struct {
		// Addr of the yamux listener. Empty disables it.
		Addr string `config:"addr"`
	} `config:"yamux"`

	Listener struct {
		KeepAlive           time.Duration `config:"keep_alive"`
		Backoff             time.Duration `config:"backoff"`
		MaxConnsPerClientIP int           `config:"max_conns_per_client_ip"`
	} `config:"listener"`

	Service struct {
		MaxBodyBytes int64 `config:"max_body_bytes"`
		Debug        bool  `config:"debug"`
	} `config:"service"`

	Routes struct {
		Index string `config:"index"`
	} `config:"routes"`

	Log logging.Config `config:"log"`
}

// DefaultConfig
func DefaultConfig() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ReadHeaderTimeout = 2 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.HTTP.H2C = true
	cfg.Listener.KeepAlive = listener.DefaultKeepAlive
	cfg.Listener.Backoff = listener.DefaultBackoff
	cfg.Service.MaxBodyBytes = service.DefaultMaxBodyBytes
	cfg.Service.Debug = true
	cfg.Routes.Index = "radix"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// NewTable returns an empty route table using the configured index.
func (cfg Config) NewTable() (*mux.Table, error) {
	idx, err := mux.ParseIndex(cfg.Routes.Index)
	if err != nil {
		return nil, err
	}
	return mux.New(mux.WithIndex(idx)), nil
}

// ServiceOptions returns the options every service should be built with.
func (cfg Config) ServiceOptions(log *slog.Logger) []service.Option {
	return []service.Option{
		service.MaxBodyBytes(cfg.Service.MaxBodyBytes),
		service.Debug(cfg.Service.Debug),
		service.Logger(log),
	}
}

func (cfg Config) listenerOptions(log *slog.Logger) []listener.Option {
	return []listener.Option{
		listener.KeepAlive(cfg.Listener.KeepAlive),
		listener.Backoff(cfg.Listener.Backoff),
		listener.MaxConnsPerClientIP(cfg.Listener.MaxConnsPerClientIP),
		listener.Logger(log),
	}
}
