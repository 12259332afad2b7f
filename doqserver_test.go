// SPDX-License-Identifier: GPL-3.0-or-later

package dnsoverquic_test

import (
	"context"
	"crypto/tls"
	"io"
	"net/netip"

	"github.com/bassosimone/dnstest"
	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
)

// doqServer is a minimal DNS-over-QUIC server for testing.
//
// It answers queries using a [*dnstest.Handler].
type doqServer struct {
	handler  *dnstest.Handler
	listener *quic.Listener
}

// mustNewDoQServer starts a [*doqServer] listening on 127.0.0.1.
func mustNewDoQServer(cert tls.Certificate, dnsConfig *dnstest.HandlerConfig) *doqServer {
	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"doq"},
	}
	listener := runtimex.PanicOnError1(quic.ListenAddr("127.0.0.1:0", config, &quic.Config{}))
	srv := &doqServer{handler: dnstest.NewHandler(dnsConfig), listener: listener}
	go srv.serve()
	return srv
}

// Address returns the server endpoint.
func (s *doqServer) Address() netip.AddrPort {
	return runtimex.PanicOnError1(netip.ParseAddrPort(s.listener.Addr().String()))
}

// Close stops the server.
func (s *doqServer) Close() error {
	return s.listener.Close()
}

func (s *doqServer) serve() {
	for {
		conn, err := s.listener.Accept(context.Background())
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *doqServer) handleConn(conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go s.handleStream(stream)
	}
}

func (s *doqServer) handleStream(stream *quic.Stream) {
	defer stream.Close()

	header := make([]byte, 2)
	if _, err := io.ReadFull(stream, header); err != nil {
		return
	}
	rawQuery := make([]byte, int(header[0])<<8|int(header[1]))
	if _, err := io.ReadFull(stream, rawQuery); err != nil {
		return
	}
	query := &dns.Msg{}
	if err := query.Unpack(rawQuery); err != nil {
		return
	}

	resp := s.handler.PrepareResponse(query)
	rawResp, err := resp.Pack()
	if err != nil {
		return
	}
	frame := append([]byte{byte(len(rawResp) >> 8), byte(len(rawResp))}, rawResp...)
	_, _ = stream.Write(frame)
}
