package rist

import (
	"fmt"
	"net"

	"github.com/go-rist/rist/internal/log"
	"github.com/go-rist/rist/internal/protocol"
)

// udpConn wraps a *net.UDPConn with the kernel buffer sizing
// cooldogedev/spectral's udp.go applies, minus its MTU-discovery probe
// loop: spec.md §6 takes mtu as a configured value, so there is nothing to
// discover. The one socket option worth asking for is a don't-fragment
// request, so a datagram that no longer fits the configured mtu fails
// loudly with EMSGSIZE instead of the kernel silently splitting it.
type udpConn struct {
	conn *net.UDPConn
}

func newUDPConn(conn *net.UDPConn, logger *log.Logger) (*udpConn, error) {
	if err := conn.SetReadBuffer(protocol.ReceiveBufferSize); err != nil {
		return nil, err
	}
	if err := conn.SetWriteBuffer(protocol.SendBufferSize); err != nil {
		return nil, err
	}

	sc, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	if err := setDontFragment(sc); err != nil {
		logger.Warn("dont_fragment_unavailable", map[string]any{"error": err.Error()})
	}

	return &udpConn{conn: conn}, nil
}

func (c *udpConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// ReadFrom reads one datagram. A recv-too-large error is swallowed the same
// way the teacher's Read loop does: the datagram that triggered it is
// simply gone, not a reason to tear down the socket.
func (c *udpConn) ReadFrom(b []byte) (int, *net.UDPAddr, error) {
	n, addr, err := c.conn.ReadFromUDP(b)
	if err != nil && isDatagramTooLarge(err) {
		return 0, addr, nil
	}
	return n, addr, err
}

// WriteTo writes one datagram. A send-too-large error means the configured
// mtu no longer fits the path; that is unrecoverable for this peer, so it
// is promoted to ErrFatal rather than treated as a per-packet failure.
func (c *udpConn) WriteTo(p []byte, addr *net.UDPAddr) (int, error) {
	n, err := c.conn.WriteToUDP(p, addr)
	if err != nil && isDatagramTooLarge(err) {
		return n, fmt.Errorf("%w: datagram exceeds path mtu: %w", ErrFatal, err)
	}
	return n, err
}

func (c *udpConn) Close() error {
	return c.conn.Close()
}
