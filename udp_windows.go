//go:build windows

package rist

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

const ipDontFragment = 14

// setDontFragment asks the kernel to refuse to silently fragment outbound
// datagrams rather than probing for a path mtu: RIST's mtu is a configured
// value (spec.md §6), never discovered, so there is nothing else worth
// asking the socket for here.
func setDontFragment(conn syscall.RawConn) error {
	var sockErr error
	if err := conn.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IP, ipDontFragment, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// isDatagramTooLarge reports whether err is Winsock refusing a datagram
// that no longer fits the configured mtu, on either the send or receive
// path.
func isDatagramTooLarge(err error) bool {
	return errors.Is(err, windows.WSAEMSGSIZE)
}
