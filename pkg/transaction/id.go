// Package transaction implements the per-transfer state machines: the
// Class-1/Class-2 send transaction and the receive transaction.
package transaction

import "fmt"

// ID is the globally unique pair naming one file transfer: the entity
// that originated the sequence number, and the sequence number itself.
type ID struct {
	SourceEntityID uint64
	SequenceNumber uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.SourceEntityID, id.SequenceNumber)
}

// ParseID parses the string form produced by ID.String(), for callers
// (the entity engine's timer scheduler) that only carry the key around.
func ParseID(s string) (ID, bool) {
	var src, seq uint64
	if _, err := fmt.Sscanf(s, "%d:%d", &src, &seq); err != nil {
		return ID{}, false
	}
	return ID{SourceEntityID: src, SequenceNumber: seq}, true
}

// Key returns a value suitable for use as a map key — ID is already
// comparable, but Key documents the intent at registry call sites.
func (id ID) Key() ID { return id }

// State is a transaction's lifecycle stage: Initial → Active →
// (Suspended ⇄ Active)* → {Complete | Cancelled}.
type State int

const (
	StateInitial State = iota
	StateActive
	StateSuspended
	StateComplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateActive:
		return "Active"
	case StateSuspended:
		return "Suspended"
	case StateComplete:
		return "Complete"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is an absorbing state.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateCancelled
}
