// SPDX-License-Identifier: GPL-3.0-or-later

package dnsoverquic

import (
	"errors"
	"fmt"
)

// ConfigError indicates that the default [*tls.Config] could not be created.
//
// A ConfigError is returned by an already-failed [*ConnectFuture].
type ConfigError struct {
	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("dnsoverquic: cannot create default TLS config: %s", e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TransportError indicates that establishing the QUIC connection failed.
type TransportError struct {
	// Op is the failed operation: "connect", "listen", or "handshake".
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("dnsoverquic: %s: %s", e.Op, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrBindingConflict indicates that both a bind address and an external
// socket were configured for the same connection.
var ErrBindingConflict = errors.New("dnsoverquic: cannot use both a bind address and an external socket")

// ErrNilPacketConn indicates that a nil external socket was supplied.
var ErrNilPacketConn = errors.New("dnsoverquic: nil external socket")

// ErrConnectAborted indicates that driving a [*ConnectFuture] did not return
// normally, e.g., because the underlying transport panicked.
var ErrConnectAborted = errors.New("dnsoverquic: connect aborted")
