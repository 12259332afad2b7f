// SPDX-License-Identifier: GPL-3.0-or-later

package dnsoverquic

import (
	"context"
	"crypto/tls"
	"net/netip"
	"testing"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

func TestNewQUICStreamDescriptor(t *testing.T) {
	remote := netip.MustParseAddrPort("94.140.14.140:853")
	tlsConfig := &tls.Config{}
	quicConfig := &quic.Config{}
	listener := &packetListenerStub{}

	t.Run("owned binding without bind address", func(t *testing.T) {
		target := QUICTarget{Remote: remote, ServerName: "dns.adguard.com", Binding: OwnedBinding{}}
		desc := newQUICStreamDescriptor(target, tlsConfig, quicConfig, listener)

		_, ok := desc.BindAddr()
		require.False(t, ok)
		_, ok = desc.PacketConn()
		require.False(t, ok)
		require.Equal(t, ":0", desc.listenAddress())
		require.Same(t, tlsConfig, desc.TLSConfig())
		require.Same(t, quicConfig, desc.QUICConfig())
		require.Equal(t, remote, desc.Remote())
		require.Equal(t, "dns.adguard.com", desc.ServerName())
	})

	t.Run("owned binding with bind address", func(t *testing.T) {
		bindAddr := netip.MustParseAddrPort("127.0.0.1:5353")
		target := QUICTarget{Remote: remote, ServerName: "dns.adguard.com", Binding: OwnedBinding{BindAddr: bindAddr}}
		desc := newQUICStreamDescriptor(target, tlsConfig, quicConfig, listener)

		got, ok := desc.BindAddr()
		require.True(t, ok)
		require.Equal(t, bindAddr, got)
		require.Equal(t, "127.0.0.1:5353", desc.listenAddress())
	})

	t.Run("nil binding means ephemeral owned binding", func(t *testing.T) {
		target := QUICTarget{Remote: remote, ServerName: "dns.adguard.com"}
		desc := newQUICStreamDescriptor(target, tlsConfig, quicConfig, listener)

		_, ok := desc.BindAddr()
		require.False(t, ok)
		_, ok = desc.PacketConn()
		require.False(t, ok)
		require.NotNil(t, desc.listener)
	})

	t.Run("external socket", func(t *testing.T) {
		pconn := &packetConnStub{}
		target := QUICTarget{Remote: remote, ServerName: "dns.adguard.com", Binding: ExternalSocket{Conn: pconn}}
		desc := newQUICStreamDescriptor(target, tlsConfig, quicConfig, listener)

		got, ok := desc.PacketConn()
		require.True(t, ok)
		require.Same(t, pconn, got)
		_, ok = desc.BindAddr()
		require.False(t, ok)
		require.Nil(t, desc.listener)
		require.Zero(t, pconn.calls.Load())
	})
}

func TestQUICStreamDescriptorClientTLSConfig(t *testing.T) {
	remote := netip.MustParseAddrPort("94.140.14.140:853")
	target := QUICTarget{Remote: remote, ServerName: "dns.adguard.com"}

	t.Run("fills an empty ServerName on a clone", func(t *testing.T) {
		shared := &tls.Config{NextProtos: []string{"doq"}}
		desc := newQUICStreamDescriptor(target, shared, nil, nil)

		config := desc.clientTLSConfig()
		require.NotSame(t, shared, config)
		require.Equal(t, "dns.adguard.com", config.ServerName)
		require.Empty(t, shared.ServerName)
	})

	t.Run("keeps the configured ServerName and ALPN", func(t *testing.T) {
		shared := &tls.Config{ServerName: "unfiltered.adguard-dns.com", NextProtos: []string{"doq-i02"}}
		desc := newQUICStreamDescriptor(target, shared, nil, nil)

		config := desc.clientTLSConfig()
		require.Equal(t, "unfiltered.adguard-dns.com", config.ServerName)
		require.Equal(t, []string{"doq-i02"}, config.NextProtos)
	})
}

func TestQUICStreamDescriptorNilExternalSocket(t *testing.T) {
	target := QUICTarget{
		Remote:     netip.MustParseAddrPort("127.0.0.1:853"),
		ServerName: "example.com",
		Binding:    ExternalSocket{},
	}
	desc := newQUICStreamDescriptor(target, &tls.Config{}, nil, &packetListenerStub{})

	_, err := desc.dial(context.Background())
	require.ErrorIs(t, err, ErrNilPacketConn)
}
