// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package listener

import (
	"context"
	"net"
)

// listen falls back to the runtime's socket options and backlog.
func listen(ctx context.Context, network, addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: -1}
	return lc.Listen(ctx, network, addr)
}
