//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Written by @roopeshsn and @bassosimone
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/dotcp.go
// Adapted from: https://github.com/ooni/probe-engine/blob/v0.23.0/netx/resolver/dnsovertcp.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/doquic.go
// Adapted from: https://github.com/rbmk-project/dnscore/blob/v0.14.0/doquic.go
//
// See https://github.com/rbmk-project/dnscore/pull/18
//
// See https://datatracker.ietf.org/doc/rfc9250/
//

package dnsoverquic

import (
	"bufio"
	"context"
	"io"
	"math"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
)

// Stream is a bidirectional stream suitable for a single DNS exchange.
//
// [*quic.Stream] implements this interface.
type Stream interface {
	// SetDeadline sets the I/O deadline.
	SetDeadline(t time.Time) error

	// We can obviously do I/O with the stream.
	io.ReadWriter

	// Close sends the STREAM FIN, signaling that the query is complete.
	io.Closer
}

// StreamOpener opens [Stream] instances over an established connection.
type StreamOpener interface {
	// Close closes the underlying connection.
	Close() error

	// MutateQuery mutates the [*dnscodec.Query] to apply the correct
	// settings for the protocol that we are using.
	MutateQuery(msg *dnscodec.Query)

	// OpenStream opens a new [Stream].
	OpenStream() (Stream, error)
}

// StreamOpenerDialer creates a [StreamOpener] for a given endpoint.
type StreamOpenerDialer interface {
	DialContext(ctx context.Context, address netip.AddrPort) (StreamOpener, error)
}

// Transport is a transport for DNS over QUIC.
//
// Construct using [NewTransport] or [NewTransportQUIC].
//
// Transport creates a new connection for each Exchange call and targets the
// specific [netip.AddrPort] endpoint configured at construction time.
type Transport struct {
	// ObserveRawQuery is an OPTIONAL hook called with a copy of the raw DNS query.
	ObserveRawQuery func([]byte)

	// ObserveRawResponse is an OPTIONAL hook called with a copy of the raw DNS response.
	ObserveRawResponse func([]byte)

	// dialer is the [StreamOpenerDialer] to create connections.
	//
	// Set by [NewTransport] to the user-provided value.
	dialer StreamOpenerDialer

	// endpoint is the server endpoint to use to query.
	//
	// Set by [NewTransport] to the user-provided value.
	endpoint netip.AddrPort
}

// NewTransport creates a new [*Transport].
func NewTransport(dialer StreamOpenerDialer, endpoint netip.AddrPort) *Transport {
	return &Transport{dialer: dialer, endpoint: endpoint}
}

// Exchange sends a [*dnscodec.Query] and receives a [*dnscodec.Response].
//
// Exchange dials a new connection, closes it when done, and closes it
// early if the context is done.
func (dt *Transport) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	// 1. create the connection
	conn, err := dt.dialer.DialContext(ctx, dt.endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// 2. Use a single connection for request, which is what the standard library
	// does as well for and is more robust in terms of residual censorship.
	//
	// Make sure we react to context being canceled early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// 3. perform the exchange
	return dt.ExchangeWithStreamOpener(ctx, conn, query)
}

// ExchangeWithStreamOpener is like [*Transport.Exchange] but uses a caller-owned [StreamOpener].
//
// The caller is responsible for closing the opener.
func (dt *Transport) ExchangeWithStreamOpener(
	ctx context.Context, conn StreamOpener, query *dnscodec.Query) (*dnscodec.Response, error) {
	// 1. Open the stream for sending the DoQ query.
	stream, err := conn.OpenStream()
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	// 2. Use the context deadline to limit the query lifetime
	// and make sure we do not leave a stale deadline behind.
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
		defer stream.SetDeadline(time.Time{})
	}

	// 3. Mutate and serialize the query.
	query = query.Clone()
	conn.MutateQuery(query)
	queryMsg, err := query.NewMsg()
	if err != nil {
		return nil, err
	}
	rawQuery, err := queryMsg.Pack()
	if err != nil {
		return nil, err
	}
	dt.observe(dt.ObserveRawQuery, rawQuery)

	// 4. Wrap the query into a frame
	rawQueryFrame, err := newStreamMsgFrame(rawQuery)
	if err != nil {
		return nil, err
	}

	// 5. Send the query.
	if _, err := stream.Write(rawQueryFrame); err != nil {
		return nil, err
	}

	// 6. Close the stream to signal the upstream server that it is
	// okay to send a response.
	//
	// RFC 9250 is very clear in this respect:
	//
	//	4.2.  Stream Mapping and Usage
	//	client MUST send the DNS query over the selected stream and MUST
	//	indicate through the STREAM FIN mechanism that no further data will
	//	be sent on that stream.
	//
	// Empirical testing during https://github.com/rbmk-project/dnscore/pull/18
	// showed that, in fact, some servers misbehave if we don't do this.
	stream.Close()

	// 7. Wrap the stream to avoid issuing too many reads
	// then read the response header and message
	br := bufio.NewReader(stream)
	header := make([]byte, 2)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, err
	}
	length := int(header[0])<<8 | int(header[1])
	// TODO(bassosimone): consider enforcing query.MaxSize here.
	rawResp := make([]byte, length)
	if _, err := io.ReadFull(br, rawResp); err != nil {
		return nil, err
	}
	dt.observe(dt.ObserveRawResponse, rawResp)

	// 8. Parse the response and return
	respMsg := new(dns.Msg)
	if err := respMsg.Unpack(rawResp); err != nil {
		return nil, err
	}
	return dnscodec.ParseResponse(queryMsg, respMsg)
}

// observe invokes the hook, if set, with a copy of data.
func (dt *Transport) observe(hook func([]byte), data []byte) {
	if hook != nil {
		hook(append([]byte{}, data...))
	}
}

// newStreamMsgFrame creates a new raw frame for sending a message over a stream.
func newStreamMsgFrame(rawMsg []byte) ([]byte, error) {
	runtimex.Assert(len(rawMsg) <= math.MaxUint16)
	rawMsgFrame := []byte{byte(len(rawMsg) >> 8)}
	rawMsgFrame = append(rawMsgFrame, byte(len(rawMsg)))
	rawMsgFrame = append(rawMsgFrame, rawMsg...)
	return rawMsgFrame, nil
}
