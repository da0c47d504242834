// Package segment implements the receive-side segment map: an offset-keyed
// ordered store of received byte ranges, gap enumeration, and linear
// assembly.
package segment

import (
	"errors"
	"sort"
)

// ErrGapDetected is returned by Assemble when the stored segments do not
// cover [0, fileSize) contiguously.
var ErrGapDetected = errors.New("segment: gap detected")

// Gap is a missing half-open byte range [Start, End).
type Gap struct {
	Start uint64
	End   uint64
}

// segEntry is one stored (offset, bytes) pair.
type segEntry struct {
	offset uint64
	data   []byte
}

// Map is an ordered mapping from file offset to received bytes. Inserting
// at an offset already present replaces the stored bytes — last write wins
// (spec.md §9).
type Map struct {
	byOffset map[uint64][]byte
	received uint64
}

// New returns an empty segment map.
func New() *Map {
	return &Map{byOffset: make(map[uint64][]byte)}
}

// Insert stores data at offset, replacing any bytes previously stored at
// that exact offset.
func (m *Map) Insert(offset uint64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	if old, ok := m.byOffset[offset]; ok {
		m.received -= uint64(len(old))
	}
	m.byOffset[offset] = cp
	m.received += uint64(len(cp))
}

// BytesReceived returns the running total of bytes currently stored (after
// accounting for offset overwrites).
func (m *Map) BytesReceived() uint64 {
	return m.received
}

// entries returns the stored segments in ascending offset order.
func (m *Map) entries() []segEntry {
	out := make([]segEntry, 0, len(m.byOffset))
	for off, data := range m.byOffset {
		out = append(out, segEntry{offset: off, data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].offset < out[j].offset })
	return out
}

// Gaps enumerates the missing byte ranges against a declared file size,
// per spec.md §4.3: walk segments in ascending offset order tracking the
// expected next offset, emitting a gap whenever a segment starts beyond
// it, and a final gap if the last segment doesn't reach fileSize.
func (m *Map) Gaps(fileSize uint64) []Gap {
	var gaps []Gap
	var expected uint64

	for _, e := range m.entries() {
		if e.offset > expected {
			gaps = append(gaps, Gap{Start: expected, End: e.offset})
		}
		end := e.offset + uint64(len(e.data))
		if end > expected {
			expected = end
		}
	}

	if expected < fileSize {
		gaps = append(gaps, Gap{Start: expected, End: fileSize})
	}

	return gaps
}

// Assemble linearly concatenates the stored segments into a contiguous
// fileSize-byte buffer. It fails with ErrGapDetected unless every segment's
// offset equals the running expected offset.
func (m *Map) Assemble(fileSize uint64) ([]byte, error) {
	buf := make([]byte, 0, fileSize)
	var expected uint64

	for _, e := range m.entries() {
		if e.offset != expected {
			return nil, ErrGapDetected
		}
		buf = append(buf, e.data...)
		expected += uint64(len(e.data))
	}

	if expected != fileSize {
		return nil, ErrGapDetected
	}

	return buf, nil
}
