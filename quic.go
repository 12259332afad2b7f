//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Written by @roopeshsn and @bassosimone
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/doquic.go
// Adapted from: https://github.com/rbmk-project/dnscore/blob/v0.14.0/doquic.go
//
// See https://github.com/rbmk-project/dnscore/pull/18
//
// See https://datatracker.ietf.org/doc/rfc9250/
//

package dnsoverquic

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"sync"

	"github.com/bassosimone/dnscodec"
	"github.com/quic-go/quic-go"
)

// QUICExchange is an established DNS-over-QUIC connection.
//
// It implements [StreamOpener] and owns the underlying [*quic.Conn] and,
// when we created it, the UDP socket. Call Close when done.
type QUICExchange struct {
	once      sync.Once
	pconn     net.PacketConn
	qconn     *quic.Conn
	transport *quic.Transport
}

var _ StreamOpener = &QUICExchange{}

func newQUICExchange(qconn *quic.Conn, transport *quic.Transport) *QUICExchange {
	return &QUICExchange{qconn: qconn, transport: transport}
}

// Close closes the connection without signaling an error (RFC 9250 Sect. 4.3).
//
// Close also releases the socket when we own it. It is safe to call
// Close more than once.
func (q *QUICExchange) Close() (err error) {
	q.once.Do(func() {
		const quicNoError = 0x00
		err = q.qconn.CloseWithError(quicNoError, "")
		q.transport.Close()
		if q.pconn != nil {
			q.pconn.Close()
		}
	})
	return
}

// ConnectionState returns the TLS connection state.
func (q *QUICExchange) ConnectionState() tls.ConnectionState {
	return q.qconn.ConnectionState().TLS
}

// LocalAddr returns the local address.
func (q *QUICExchange) LocalAddr() net.Addr {
	return q.qconn.LocalAddr()
}

// MutateQuery implements [StreamOpener].
func (q *QUICExchange) MutateQuery(msg *dnscodec.Query) {
	msg.Flags |= dnscodec.QueryFlagBlockLengthPadding | dnscodec.QueryFlagDNSSec
	msg.ID = 0
	msg.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

// OpenStream implements [StreamOpener].
func (q *QUICExchange) OpenStream() (Stream, error) {
	return q.qconn.OpenStream()
}

// QUICStreamOpenerDialer implements [StreamOpenerDialer] for DNS over QUIC.
//
// Each DialContext call establishes a new connection.
type QUICStreamOpenerDialer struct {
	// Connector is the OPTIONAL [*QUICConnector] (a zero-value one by default).
	Connector *QUICConnector

	// BindAddr is the OPTIONAL local address to bind.
	BindAddr netip.AddrPort

	// PacketConn is the OPTIONAL external socket to use.
	//
	// Setting both BindAddr and PacketConn causes [ErrBindingConflict].
	PacketConn net.PacketConn

	// ServerName is the MANDATORY server name.
	ServerName string

	// TLSConfig is the OPTIONAL override [*tls.Config].
	TLSConfig *tls.Config
}

var _ StreamOpenerDialer = &QUICStreamOpenerDialer{}

// NewQUICStreamOpenerDialer creates a new [*QUICStreamOpenerDialer] using the
// process-wide default [*tls.Config] and an ephemeral local address.
func NewQUICStreamOpenerDialer(serverName string) *QUICStreamOpenerDialer {
	return &QUICStreamOpenerDialer{
		Connector:  &QUICConnector{},
		ServerName: serverName,
	}
}

// DialContext implements [StreamOpenerDialer].
func (d *QUICStreamOpenerDialer) DialContext(ctx context.Context, address netip.AddrPort) (StreamOpener, error) {
	future, err := d.newConnectFuture(address)
	if err != nil {
		return nil, err
	}
	exchange, err := future.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return exchange, nil
}

func (d *QUICStreamOpenerDialer) newConnectFuture(address netip.AddrPort) (*ConnectFuture, error) {
	connector := d.Connector
	if connector == nil {
		connector = &QUICConnector{}
	}
	switch {
	case d.PacketConn != nil && d.BindAddr.IsValid():
		return nil, ErrBindingConflict
	case d.PacketConn != nil:
		return connector.ConnectViaSocket(d.PacketConn, address, d.ServerName, d.TLSConfig), nil
	default:
		return connector.ConnectViaAddress(address, d.BindAddr, d.ServerName, d.TLSConfig), nil
	}
}

// NewTransportQUIC returns a new [*Transport] for DNS over QUIC.
func NewTransportQUIC(dialer *QUICStreamOpenerDialer, endpoint netip.AddrPort) *Transport {
	return NewTransport(dialer, endpoint)
}
