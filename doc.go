// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package oneshot serves request/response handlers over HTTP/1.1,
// cleartext HTTP/2 and yamux streams from a single route table.
//
// Each handler sees exactly one decoded request and produces exactly one
// reply. GET and DELETE requests are decoded from the query string while
// POST and PUT requests are decoded from a JSON body. Every reply uses
// the same envelope:
//
//	{"status":"ok","result":...}
//	{"status":"error","reason":"...","msg":"..."}
//
// # Basic Usage
//
// Register routes from a [Registrar] and hand it to [Run]:
//
//	err := oneshot.Run(
//	    context.Background(),
//	    oneshot.RegistrarFunc(func(ctx context.Context, s oneshot.Setup, t *mux.Table) error {
//	        hello := service.New(service.Sync(func(context.Context, service.Empty) (string, error) {
//	            return "hello, world", nil
//	        }), s.ServiceOptions()...)
//	        return t.Handle(http.MethodGet, mux.Exact("/"), hello)
//	    }),
//	    oneshot.Sources(config.FromEnv(config.Prefix("ONESHOT_"))),
//	)
//
// [Run] stops on SIGINT or SIGTERM and drains in-flight requests.
//
// # Packages
//
//   - service: codecs, reply envelope and handler adapters
//   - mux: exact and prefix route lookup
//   - bridge: runs services over multiplexed streams
//   - listener: accept loop with retry and backoff
//   - server: HTTP/1.1, h2c and yamux runtime
package oneshot
