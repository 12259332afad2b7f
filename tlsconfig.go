// SPDX-License-Identifier: GPL-3.0-or-later

package dnsoverquic

import (
	"crypto/tls"
	"crypto/x509"
	"sync"
)

// NewTLSConfigDNSOverQUIC returns the [*tls.Config] to use for DNS-over-QUIC.
//
// The returned config uses the system roots. Use it to build an override
// for a specific server name.
func NewTLSConfigDNSOverQUIC(serverName string) *tls.Config {
	return &tls.Config{
		NextProtos: []string{"doq"},
		ServerName: serverName,
		MinVersion: tls.VersionTLS13,
	}
}

// NewDefaultTLSConfigDNSOverQUIC creates the process-wide default [*tls.Config].
//
// The config trusts the system roots, negotiates the "doq" ALPN, and leaves
// ServerName empty, since each connection fills it from its own target.
func NewDefaultTLSConfigDNSOverQUIC() (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		RootCAs:    roots,
		NextProtos: []string{"doq"},
		MinVersion: tls.VersionTLS13,
	}, nil
}

// TLSConfigCache lazily computes and caches a default [*tls.Config].
//
// The default is computed at most once. Both success and failure are
// cached: once computing the default failed, [*TLSConfigCache.Resolve]
// returns the same [*ConfigError] forever.
//
// Construct using [NewTLSConfigCache].
type TLSConfigCache struct {
	load func() (*tls.Config, error)
}

// NewTLSConfigCache creates a [*TLSConfigCache] computing its value using newConfig.
func NewTLSConfigCache(newConfig func() (*tls.Config, error)) *TLSConfigCache {
	return &TLSConfigCache{
		load: sync.OnceValues(func() (*tls.Config, error) {
			config, err := newConfig()
			if err != nil {
				return nil, &ConfigError{Err: err}
			}
			return config, nil
		}),
	}
}

// DefaultTLSConfigCache is the process-wide [*TLSConfigCache].
var DefaultTLSConfigCache = NewTLSConfigCache(NewDefaultTLSConfigDNSOverQUIC)

// Resolve returns the [*tls.Config] to use for a connection.
//
// When override is not nil, Resolve returns it unchanged without touching
// the cache. Otherwise, Resolve returns the cached default, computing it
// on first use. Concurrent first callers wait for a single computation.
//
// The returned config is shared and MUST NOT be modified.
func (c *TLSConfigCache) Resolve(override *tls.Config) (*tls.Config, error) {
	if override != nil {
		return override, nil
	}
	return c.load()
}
