// SPDX-License-Identifier: GPL-3.0-or-later

package dnsoverquic

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// ConnectState is the state of a [*ConnectFuture].
type ConnectState int32

const (
	// ConnectStateConstructed means the future has not been driven yet.
	ConnectStateConstructed = ConnectState(iota)

	// ConnectStateConnecting means binding or handshaking is in progress.
	ConnectStateConnecting

	// ConnectStateReady means the connection has been established.
	ConnectStateReady

	// ConnectStateFailed means the connection could not be established.
	ConnectStateFailed
)

// String implements [fmt.Stringer].
func (s ConnectState) String() string {
	switch s {
	case ConnectStateConstructed:
		return "constructed"
	case ConnectStateConnecting:
		return "connecting"
	case ConnectStateReady:
		return "ready"
	case ConnectStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectFuture is a pending DNS-over-QUIC connection.
//
// Creating a future performs no I/O. Calling [*ConnectFuture.Connect] drives
// the future to completion. A future created after a [*ConfigError] is
// already failed and answers Connect exactly like a future whose handshake
// failed, so callers need not distinguish the two.
type ConnectFuture struct {
	desc     *QUICStreamDescriptor
	done     chan struct{}
	err      error
	exchange *QUICExchange
	logger   SLogger
	state    atomic.Int32
	timeNow  func() time.Time
}

// newFailedConnectFuture returns a [*ConnectFuture] that already failed with err.
func newFailedConnectFuture(err error) *ConnectFuture {
	f := &ConnectFuture{done: make(chan struct{}), err: err}
	f.state.Store(int32(ConnectStateFailed))
	close(f.done)
	return f
}

// Connect establishes the connection and returns the [*QUICExchange].
//
// Only the first call does any work and the context it receives bounds the
// socket bind and the handshake. Later calls return the same outcome even
// when their context is done. Calls concurrent with the first one wait for
// the outcome or return the context error if their context is done first.
//
// The caller owns the returned [*QUICExchange] and must Close it.
func (f *ConnectFuture) Connect(ctx context.Context) (*QUICExchange, error) {
	// A terminal outcome wins over a done context.
	select {
	case <-f.done:
		return f.exchange, f.err
	default:
	}
	if !f.state.CompareAndSwap(int32(ConnectStateConstructed), int32(ConnectStateConnecting)) {
		select {
		case <-f.done:
			return f.exchange, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.err = ErrConnectAborted
	defer f.complete()
	f.exchange, f.err = f.run(ctx)
	return f.exchange, f.err
}

// complete moves the future to its terminal state and wakes up waiters.
func (f *ConnectFuture) complete() {
	if f.err != nil {
		f.state.Store(int32(ConnectStateFailed))
	} else {
		f.state.Store(int32(ConnectStateReady))
	}
	close(f.done)
}

func (f *ConnectFuture) run(ctx context.Context) (*QUICExchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	t0 := f.timeNow()
	localAddr := f.localAddrString()
	f.logger.InfoContext(
		ctx,
		"quicConnectStart",
		"localAddr", localAddr,
		"protocol", "quic",
		"remoteAddr", f.desc.remote.String(),
		"serverName", f.desc.serverName,
		"t0", t0,
		"t", t0,
	)

	exchange, err := f.desc.dial(ctx)

	if exchange != nil {
		localAddr = exchange.LocalAddr().String()
	}
	f.logger.InfoContext(
		ctx,
		"quicConnectDone",
		"err", err,
		"localAddr", localAddr,
		"protocol", "quic",
		"remoteAddr", f.desc.remote.String(),
		"serverName", f.desc.serverName,
		"t0", t0,
		"t", f.timeNow(),
	)
	return exchange, err
}

// localAddrString returns the local address we know before dialing.
func (f *ConnectFuture) localAddrString() string {
	if pconn, ok := f.desc.PacketConn(); ok {
		return pconn.LocalAddr().String()
	}
	return f.desc.listenAddress()
}

// Descriptor returns the [*QUICStreamDescriptor] or nil for a future
// that failed before building one.
func (f *ConnectFuture) Descriptor() *QUICStreamDescriptor {
	return f.desc
}

// Done returns a channel closed when the future reaches a terminal state.
func (f *ConnectFuture) Done() <-chan struct{} {
	return f.done
}

// State returns the current [ConnectState].
func (f *ConnectFuture) State() ConnectState {
	return ConnectState(f.state.Load())
}

// QUICConnector creates [*ConnectFuture] instances.
//
// The zero value is ready to use.
type QUICConnector struct {
	// Cache is the OPTIONAL [*TLSConfigCache] (defaults to [DefaultTLSConfigCache]).
	Cache *TLSConfigCache

	// Listener is the OPTIONAL [PacketListener] to create owned sockets
	// (defaults to [*net.ListenConfig]).
	Listener PacketListener

	// Logger is the OPTIONAL [SLogger] (defaults to discarding logs).
	Logger SLogger

	// QUICConfig contains OPTIONAL [*quic.Config] (defaults to an empty one).
	QUICConfig *quic.Config

	// TimeNow is the OPTIONAL time source (defaults to [time.Now]).
	TimeNow func() time.Time
}

// ConnectViaAddress returns a [*ConnectFuture] for remote using a socket we own.
//
// When bindAddr is the zero value, we bind an ephemeral local address. When
// tlsOverride is nil, we use the cached default [*tls.Config]. This method
// performs no I/O, except for computing the default config on first use.
func (c *QUICConnector) ConnectViaAddress(remote, bindAddr netip.AddrPort,
	serverName string, tlsOverride *tls.Config) *ConnectFuture {
	target := QUICTarget{
		Remote:     remote,
		ServerName: serverName,
		Binding:    OwnedBinding{BindAddr: bindAddr},
	}
	return c.connect(target, tlsOverride)
}

// ConnectViaSocket returns a [*ConnectFuture] for remote using the caller-owned pconn.
//
// We do not close pconn. A nil pconn yields a future already failed with
// [ErrNilPacketConn]. When tlsOverride is nil, we use the cached default
// [*tls.Config]. This method performs no I/O, except for computing the
// default config on first use.
func (c *QUICConnector) ConnectViaSocket(pconn net.PacketConn, remote netip.AddrPort,
	serverName string, tlsOverride *tls.Config) *ConnectFuture {
	if pconn == nil {
		return c.newConnectFuture(nil, ErrNilPacketConn)
	}
	target := QUICTarget{
		Remote:     remote,
		ServerName: serverName,
		Binding:    ExternalSocket{Conn: pconn},
	}
	return c.connect(target, tlsOverride)
}

func (c *QUICConnector) connect(target QUICTarget, tlsOverride *tls.Config) *ConnectFuture {
	tlsConfig, err := c.cache().Resolve(tlsOverride)
	if err != nil {
		return c.newConnectFuture(nil, err)
	}
	return c.newConnectFuture(c.build(target, tlsConfig), nil)
}

func (c *QUICConnector) build(target QUICTarget, tlsConfig *tls.Config) *QUICStreamDescriptor {
	return newQUICStreamDescriptor(target, tlsConfig, c.quicConfig(), c.listener())
}

// newConnectFuture wraps desc into a live future, or err into a failed one.
func (c *QUICConnector) newConnectFuture(desc *QUICStreamDescriptor, err error) *ConnectFuture {
	if err != nil {
		return newFailedConnectFuture(err)
	}
	return &ConnectFuture{
		desc:    desc,
		done:    make(chan struct{}),
		logger:  c.logger(),
		timeNow: c.timeNow(),
	}
}

func (c *QUICConnector) cache() *TLSConfigCache {
	if c.Cache != nil {
		return c.Cache
	}
	return DefaultTLSConfigCache
}

func (c *QUICConnector) listener() PacketListener {
	if c.Listener != nil {
		return c.Listener
	}
	return &net.ListenConfig{}
}

func (c *QUICConnector) logger() SLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return discardLogger
}

func (c *QUICConnector) quicConfig() *quic.Config {
	if c.QUICConfig != nil {
		return c.QUICConfig
	}
	return &quic.Config{}
}

func (c *QUICConnector) timeNow() func() time.Time {
	if c.TimeNow != nil {
		return c.TimeNow
	}
	return time.Now
}

// ConnectViaAddress is like [*QUICConnector.ConnectViaAddress] with a zero-value connector.
func ConnectViaAddress(remote, bindAddr netip.AddrPort, serverName string, tlsOverride *tls.Config) *ConnectFuture {
	return (&QUICConnector{}).ConnectViaAddress(remote, bindAddr, serverName, tlsOverride)
}

// ConnectViaSocket is like [*QUICConnector.ConnectViaSocket] with a zero-value connector.
func ConnectViaSocket(pconn net.PacketConn, remote netip.AddrPort, serverName string, tlsOverride *tls.Config) *ConnectFuture {
	return (&QUICConnector{}).ConnectViaSocket(pconn, remote, serverName, tlsOverride)
}
