// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnsoverquic establishes DNS-over-QUIC connections.
//
// The entry points are [ConnectViaAddress], which binds its own UDP socket,
// and [ConnectViaSocket], which borrows a caller-owned [net.PacketConn]. Both
// return a [*ConnectFuture] without performing any I/O: the socket bind and
// the QUIC handshake only happen when the caller invokes
// [*ConnectFuture.Connect]. Use [*QUICConnector] to customize the cache, the
// logger, or the QUIC settings.
//
// Unless the caller supplies a [*tls.Config], connections use a process-wide
// default computed once by [DefaultTLSConfigCache]. If computing the default
// fails, the failure is sticky and every future returned without an override
// is already failed with the same [*ConfigError].
//
// The resulting [*QUICExchange] is a [StreamOpener], so it can be used with
// [*Transport] to exchange [*dnscodec.Query] messages. Each Transport targets
// a single [netip.AddrPort] endpoint and does not reuse connections across
// requests.
package dnsoverquic
