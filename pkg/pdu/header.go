// Package pdu implements bit-exact encode/decode for CFDP Protocol Data
// Units: the common header and the directive/file-data body variants.
package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncatedHeader is returned when a buffer is too short to hold a valid
// common header given the widths it declares.
var ErrTruncatedHeader = errors.New("pdu: truncated header")

// ErrTruncatedBody is returned when a PDU body is shorter than its declared
// data field length requires.
var ErrTruncatedBody = errors.New("pdu: truncated body")

// PduType distinguishes directive PDUs from file-data PDUs.
type PduType uint8

const (
	TypeFileData  PduType = 0
	TypeDirective PduType = 1
)

// Direction describes who the PDU travels toward.
type Direction uint8

const (
	DirectionTowardReceiver Direction = 0
	DirectionTowardSender   Direction = 1
)

// TransmissionMode is Class 1 (Unacknowledged) or Class 2 (Acknowledged).
type TransmissionMode uint8

const (
	ModeAcknowledged   TransmissionMode = 0
	ModeUnacknowledged TransmissionMode = 1
)

// Header is the common CFDP header carried by every PDU.
type Header struct {
	Version               uint8
	Type                   PduType
	Direction              Direction
	TransmissionMode       TransmissionMode
	CrcPresent             bool
	LargeFileFlag          bool
	DataFieldLength        uint16
	SegmentationControl    bool
	EntityIDLength         uint8 // 1..8
	SegmentMetadataFlag    bool
	SequenceNumberLength   uint8 // 1..8
	SourceEntityID         uint64
	TransactionSeqNumber   uint64
	DestinationEntityID    uint64
}

// Size returns the total serialised size of the header in octets.
func (h *Header) Size() int {
	return 4 + 2*int(h.EntityIDLength) + int(h.SequenceNumberLength)
}

// Encode serialises the header to its 4-byte-plus-ids wire form.
func (h *Header) Encode() []byte {
	buf := make([]byte, h.Size())

	buf[0] = uint8(h.Version<<5) |
		uint8(h.Type)<<4 |
		uint8(h.Direction)<<3 |
		uint8(h.TransmissionMode)<<2 |
		boolBit(h.CrcPresent)<<1 |
		boolBit(h.LargeFileFlag)

	binary.BigEndian.PutUint16(buf[1:3], h.DataFieldLength)

	buf[3] = boolBit(h.SegmentationControl)<<7 |
		(h.EntityIDLength-1)<<4 |
		boolBit(h.SegmentMetadataFlag)<<3 |
		(h.SequenceNumberLength - 1)

	off := 4
	off += putUint(buf[off:], h.SourceEntityID, int(h.EntityIDLength))
	off += putUint(buf[off:], h.TransactionSeqNumber, int(h.SequenceNumberLength))
	putUint(buf[off:], h.DestinationEntityID, int(h.EntityIDLength))

	return buf
}

// DecodeHeader parses the common header from the front of buf. It returns
// the header and the number of bytes consumed.
func DecodeHeader(buf []byte) (*Header, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrTruncatedHeader
	}

	h := &Header{
		Version:             buf[0] >> 5 & 0x07,
		Type:                PduType(buf[0] >> 4 & 0x01),
		Direction:           Direction(buf[0] >> 3 & 0x01),
		TransmissionMode:    TransmissionMode(buf[0] >> 2 & 0x01),
		CrcPresent:          buf[0]&0x02 != 0,
		LargeFileFlag:       buf[0]&0x01 != 0,
		DataFieldLength:     binary.BigEndian.Uint16(buf[1:3]),
		SegmentationControl: buf[3]&0x80 != 0,
		EntityIDLength:      (buf[3]>>4&0x07)+1,
		SegmentMetadataFlag: buf[3]&0x08 != 0,
		SequenceNumberLength: (buf[3] & 0x07) + 1,
	}

	size := h.Size()
	if len(buf) < size {
		return nil, 0, ErrTruncatedHeader
	}

	off := 4
	h.SourceEntityID, off = getUint(buf, off, int(h.EntityIDLength))
	h.TransactionSeqNumber, off = getUint(buf, off, int(h.SequenceNumberLength))
	h.DestinationEntityID, off = getUint(buf, off, int(h.EntityIDLength))

	return h, off, nil
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// putUint writes v as a big-endian unsigned integer in width octets and
// returns width.
func putUint(buf []byte, v uint64, width int) int {
	for i := 0; i < width; i++ {
		shift := uint((width - 1 - i) * 8)
		buf[i] = byte(v >> shift)
	}
	return width
}

// getUint reads a big-endian unsigned integer of width octets starting at
// off and returns the value and the new offset.
func getUint(buf []byte, off, width int) (uint64, int) {
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<8 | uint64(buf[off+i])
	}
	return v, off + width
}

// offsetWidth returns 8 when largeFile is set, 4 otherwise — the width used
// to encode file offsets and file sizes.
func offsetWidth(largeFile bool) int {
	if largeFile {
		return 8
	}
	return 4
}

func (h *Header) String() string {
	return fmt.Sprintf("Header{src=%d dst=%d seq=%d mode=%d dir=%d len=%d}",
		h.SourceEntityID, h.DestinationEntityID, h.TransactionSeqNumber,
		h.TransmissionMode, h.Direction, h.DataFieldLength)
}
