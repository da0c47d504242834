package transport

import (
	"context"
	"fmt"
	"sync"
)

// Loopback is an in-memory Transport for wiring two or more engines
// together without a real socket — used by the property tests in
// spec.md §8, the way the teacher's pkg/transport tests exercise
// Reassembler directly against literal byte sequences.
type Loopback struct {
	selfID uint64
	bus    *LoopbackBus

	mu       sync.Mutex
	receiver ReceiveFunc
}

// LoopbackBus is a shared registry of Loopback endpoints keyed by entity
// id, so Send can deliver directly into the destination's receiver.
type LoopbackBus struct {
	mu        sync.Mutex
	endpoints map[uint64]*Loopback
}

// NewLoopbackBus creates an empty bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[uint64]*Loopback)}
}

// NewEndpoint registers and returns a Loopback transport for entityID on
// this bus.
func (b *LoopbackBus) NewEndpoint(entityID uint64) *Loopback {
	l := &Loopback{selfID: entityID, bus: b}
	b.mu.Lock()
	b.endpoints[entityID] = l
	b.mu.Unlock()
	return l
}

func (l *Loopback) SetReceiver(fn ReceiveFunc) {
	l.mu.Lock()
	l.receiver = fn
	l.mu.Unlock()
}

func (l *Loopback) Send(ctx context.Context, destinationEntityID uint64, pdu []byte) error {
	l.bus.mu.Lock()
	dst, ok := l.bus.endpoints[destinationEntityID]
	l.bus.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: loopback has no endpoint for entity %d", destinationEntityID)
	}

	dst.mu.Lock()
	recv := dst.receiver
	dst.mu.Unlock()

	cp := make([]byte, len(pdu))
	copy(cp, pdu)
	if recv != nil {
		recv(cp)
	}
	return nil
}

func (l *Loopback) Close() error { return nil }
