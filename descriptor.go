// SPDX-License-Identifier: GPL-3.0-or-later

package dnsoverquic

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"

	"github.com/quic-go/quic-go"
)

// QUICBinding describes how the local side of a QUIC connection is bound.
//
// It is either [OwnedBinding] or [ExternalSocket].
type QUICBinding interface {
	isQUICBinding()
}

// OwnedBinding is the [QUICBinding] where we create and own the UDP socket.
type OwnedBinding struct {
	// BindAddr is the OPTIONAL local address to bind.
	//
	// The zero value means we bind an ephemeral local address.
	BindAddr netip.AddrPort
}

func (OwnedBinding) isQUICBinding() {}

// ExternalSocket is the [QUICBinding] where we borrow a caller-owned socket.
//
// We never close the socket: the caller remains responsible for it.
type ExternalSocket struct {
	// Conn is the MANDATORY [net.PacketConn] to use.
	Conn net.PacketConn
}

func (ExternalSocket) isQUICBinding() {}

// QUICTarget describes the endpoint of a QUIC connection.
type QUICTarget struct {
	// Remote is the MANDATORY remote UDP endpoint.
	Remote netip.AddrPort

	// ServerName is the MANDATORY DNS name of the server.
	ServerName string

	// Binding is the OPTIONAL binding (defaults to an ephemeral [OwnedBinding]).
	Binding QUICBinding
}

// PacketListener is typically [*net.ListenConfig].
type PacketListener interface {
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// QUICStreamDescriptor describes how to open a QUIC connection.
//
// A descriptor is inert: creating it performs no I/O. It is immutable and
// created by [*QUICConnector] for a single connection.
type QUICStreamDescriptor struct {
	bindAddr   netip.AddrPort
	listener   PacketListener
	pconn      net.PacketConn
	quicConfig *quic.Config
	remote     netip.AddrPort
	serverName string
	tlsConfig  *tls.Config
}

// BindAddr returns the explicit local bind address, if any.
//
// The second return value is false when the connection binds an ephemeral
// address or uses an [ExternalSocket].
func (d *QUICStreamDescriptor) BindAddr() (netip.AddrPort, bool) {
	return d.bindAddr, d.bindAddr.IsValid()
}

// PacketConn returns the external [net.PacketConn], if any.
func (d *QUICStreamDescriptor) PacketConn() (net.PacketConn, bool) {
	return d.pconn, d.pconn != nil
}

// QUICConfig returns the [*quic.Config] to use.
func (d *QUICStreamDescriptor) QUICConfig() *quic.Config {
	return d.quicConfig
}

// Remote returns the remote endpoint.
func (d *QUICStreamDescriptor) Remote() netip.AddrPort {
	return d.remote
}

// ServerName returns the server name.
func (d *QUICStreamDescriptor) ServerName() string {
	return d.serverName
}

// TLSConfig returns the resolved, shared [*tls.Config].
//
// The returned value MUST NOT be modified.
func (d *QUICStreamDescriptor) TLSConfig() *tls.Config {
	return d.tlsConfig
}

// newQUICStreamDescriptor builds a [*QUICStreamDescriptor] for target.
func newQUICStreamDescriptor(target QUICTarget, tlsConfig *tls.Config,
	quicConfig *quic.Config, listener PacketListener) *QUICStreamDescriptor {
	desc := &QUICStreamDescriptor{
		quicConfig: quicConfig,
		remote:     target.Remote,
		serverName: target.ServerName,
		tlsConfig:  tlsConfig,
	}
	switch binding := target.Binding.(type) {
	case ExternalSocket:
		desc.pconn = binding.Conn
	case OwnedBinding:
		desc.bindAddr = binding.BindAddr
		desc.listener = listener
	default:
		desc.listener = listener
	}
	return desc
}

// clientTLSConfig returns the [*tls.Config] to use for the handshake.
//
// We never merge the resolved config with the default one. We only fill
// the ServerName when the resolved config does not specify one.
func (d *QUICStreamDescriptor) clientTLSConfig() *tls.Config {
	config := d.tlsConfig.Clone()
	if config.ServerName == "" {
		config.ServerName = d.serverName
	}
	return config
}

// listenAddress returns the address to pass to [PacketListener].
func (d *QUICStreamDescriptor) listenAddress() string {
	if d.bindAddr.IsValid() {
		return d.bindAddr.String()
	}
	return ":0"
}

// dial binds the socket, if needed, and performs the QUIC handshake.
func (d *QUICStreamDescriptor) dial(ctx context.Context) (*QUICExchange, error) {
	// 1. obtain the socket
	pconn, owned := d.pconn, false
	if pconn == nil && d.listener == nil {
		return nil, &TransportError{Op: "listen", Err: ErrNilPacketConn}
	}
	if pconn == nil {
		conn, err := d.listener.ListenPacket(ctx, "udp", d.listenAddress())
		if err != nil {
			return nil, &TransportError{Op: "listen", Err: err}
		}
		pconn, owned = conn, true
	}

	// 2. perform the handshake over a dedicated transport
	transport := &quic.Transport{Conn: pconn}
	udpAddr := net.UDPAddrFromAddrPort(d.remote)
	qconn, err := transport.Dial(ctx, udpAddr, d.clientTLSConfig(), d.quicConfig)
	if err != nil {
		transport.Close()
		if owned {
			pconn.Close()
		}
		return nil, &TransportError{Op: "handshake", Err: err}
	}

	// 3. transfer ownership to the exchange
	exchange := newQUICExchange(qconn, transport)
	if owned {
		exchange.pconn = pconn
	}
	return exchange, nil
}
