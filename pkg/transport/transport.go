// Package transport ships the pluggable PDU carrier contract spec.md §6
// externalizes from the CFDP core, plus three concrete implementations
// grounded on the teacher repository's physical-channel layer: TCP
// (length-prefixed stream), UDP (one PDU per datagram), and QUIC (one
// stream per peer). A Loopback pair is provided for in-process tests.
package transport

import "context"

// ReceiveFunc is invoked once per inbound PDU buffer, in receipt order.
type ReceiveFunc func(pdu []byte)

// Transport is the single capability and single event the CFDP entity
// engine needs from the network: "send these bytes to that entity id" and
// "here are these received bytes" (spec.md §6).
type Transport interface {
	// Send ships pdu to the peer identified by destinationEntityID.
	Send(ctx context.Context, destinationEntityID uint64, pdu []byte) error

	// SetReceiver registers the callback invoked for every inbound PDU.
	// It must be called before traffic is expected to flow.
	SetReceiver(fn ReceiveFunc)

	// Close releases any held sockets/streams.
	Close() error
}

// Statistics mirrors the teacher's TransportStats shape: simple counters
// any Transport implementation exposes for observability.
type Statistics struct {
	BytesSent     uint64
	BytesReceived uint64
	WriteErrors   uint64
	ReadErrors    uint64
}
