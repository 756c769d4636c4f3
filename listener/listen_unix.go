// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package listener

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// listen builds tcp sockets by hand since net.ListenConfig always
// uses the kernel's somaxconn as the backlog.
func listen(ctx context.Context, network, addr string) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		lc := net.ListenConfig{KeepAlive: -1}
		return lc.Listen(ctx, network, addr)
	}

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	fd, err := bindTCP(network, tcpAddr)
	if err != nil {
		return nil, &net.OpError{Op: "listen", Net: network, Addr: tcpAddr, Err: err}
	}

	f := os.NewFile(uintptr(fd), "tcp:"+tcpAddr.String())
	defer f.Close()

	// FileListener dups fd so f is always closed
	return net.FileListener(f)
}

func bindTCP(network string, addr *net.TCPAddr) (int, error) {
	ip := addr.IP
	wildcard := ip == nil || ip.IsUnspecified()

	switch {
	case network == "tcp4" || (network == "tcp" && !wildcard && ip.To4() != nil):
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip != nil {
			copy(sa.Addr[:], ip.To4())
		}
		return bindSocket(unix.AF_INET, sa, false)
	case network == "tcp6":
		sa, err := inet6(addr)
		if err != nil {
			return -1, err
		}
		return bindSocket(unix.AF_INET6, sa, true)
	case wildcard:
		fd, err := bindSocket(unix.AF_INET6, &unix.SockaddrInet6{Port: addr.Port}, false)
		if err == nil || !ipv6Unavailable(err) {
			return fd, err
		}
		return bindSocket(unix.AF_INET, &unix.SockaddrInet4{Port: addr.Port}, false)
	default:
		sa, err := inet6(addr)
		if err != nil {
			return -1, err
		}
		return bindSocket(unix.AF_INET6, sa, true)
	}
}

func inet6(addr *net.TCPAddr) (*unix.SockaddrInet6, error) {
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone == "" {
		return sa, nil
	}
	ifi, err := net.InterfaceByName(addr.Zone)
	if err != nil {
		return nil, err
	}
	sa.ZoneId = uint32(ifi.Index)
	return sa, nil
}

func ipv6Unavailable(err error) bool {
	return errors.Is(err, unix.EAFNOSUPPORT) ||
		errors.Is(err, unix.EPROTONOSUPPORT) ||
		errors.Is(err, unix.EADDRNOTAVAIL)
}

func bindSocket(family int, sa unix.Sockaddr, v6only bool) (fd int, err error) {
	// hold off forks until close-on-exec is set
	syscall.ForkLock.RLock()
	fd, err = unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
			fd = -1
		}
	}()

	err = unix.SetNonblock(fd, true)
	if err != nil {
		return fd, os.NewSyscallError("setnonblock", err)
	}
	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		return fd, os.NewSyscallError("setsockopt", err)
	}
	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	if err != nil {
		return fd, os.NewSyscallError("setsockopt", err)
	}
	if family == unix.AF_INET6 {
		err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, boolint(v6only))
		if err != nil {
			return fd, os.NewSyscallError("setsockopt", err)
		}
	}
	err = unix.Bind(fd, sa)
	if err != nil {
		return fd, os.NewSyscallError("bind", err)
	}
	err = unix.Listen(fd, Backlog)
	if err != nil {
		return fd, os.NewSyscallError("listen", err)
	}
	return fd, nil
}

func boolint(b bool) int {
	if b {
		return 1
	}
	return 0
}
