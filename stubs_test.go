// SPDX-License-Identifier: GPL-3.0-or-later

package dnsoverquic

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// packetListenerStub implements [PacketListener] for testing.
type packetListenerStub struct {
	// calls counts the ListenPacket calls.
	calls atomic.Int64

	// listenPacket creates the socket.
	listenPacket func(ctx context.Context, network, address string) (net.PacketConn, error)
}

var _ PacketListener = &packetListenerStub{}

// ListenPacket implements [PacketListener].
func (l *packetListenerStub) ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	l.calls.Add(1)
	return l.listenPacket(ctx, network, address)
}

// packetConnStub is a [net.PacketConn] counting every method call.
type packetConnStub struct {
	calls atomic.Int64
}

var _ net.PacketConn = &packetConnStub{}

// Close implements [net.PacketConn].
func (c *packetConnStub) Close() error {
	c.calls.Add(1)
	return nil
}

// LocalAddr implements [net.PacketConn].
func (c *packetConnStub) LocalAddr() net.Addr {
	c.calls.Add(1)
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}
}

// ReadFrom implements [net.PacketConn].
func (c *packetConnStub) ReadFrom(p []byte) (int, net.Addr, error) {
	c.calls.Add(1)
	return 0, nil, net.ErrClosed
}

// SetDeadline implements [net.PacketConn].
func (c *packetConnStub) SetDeadline(t time.Time) error {
	c.calls.Add(1)
	return nil
}

// SetReadDeadline implements [net.PacketConn].
func (c *packetConnStub) SetReadDeadline(t time.Time) error {
	c.calls.Add(1)
	return nil
}

// SetWriteDeadline implements [net.PacketConn].
func (c *packetConnStub) SetWriteDeadline(t time.Time) error {
	c.calls.Add(1)
	return nil
}

// WriteTo implements [net.PacketConn].
func (c *packetConnStub) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.calls.Add(1)
	return 0, net.ErrClosed
}

// closeCountingPacketConn wraps a real [net.PacketConn] and counts Close calls.
type closeCountingPacketConn struct {
	net.PacketConn
	closed atomic.Int64
}

// Close implements [net.PacketConn].
func (c *closeCountingPacketConn) Close() error {
	c.closed.Add(1)
	return c.PacketConn.Close()
}
