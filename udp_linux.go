//go:build linux

package rist

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// setDontFragment asks the kernel to refuse to silently fragment outbound
// datagrams rather than probing for a path mtu: RIST's mtu is a configured
// value (spec.md §6), never discovered, so there is nothing else worth
// asking the socket for here.
func setDontFragment(conn syscall.RawConn) error {
	var sockErr error
	if err := conn.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
	}); err != nil {
		return err
	}
	return sockErr
}

// isDatagramTooLarge reports whether err is the kernel refusing a datagram
// that no longer fits the configured mtu. Linux only ever raises this on
// the send path; an oversized UDP read is truncated, not errored.
func isDatagramTooLarge(err error) bool {
	return errors.Is(err, unix.EMSGSIZE)
}
