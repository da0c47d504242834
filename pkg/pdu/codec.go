package pdu

import (
	"encoding/binary"
	"fmt"
)

// ErrUnsupportedDirective is returned by Decode for a directive code
// this package does not model a dedicated body for (Prompt, KeepAlive).
// The header is still valid; callers tolerate the body and move on per
// spec.md §7.
var ErrUnsupportedDirective = fmt.Errorf("pdu: unsupported directive")

// Encode serialises p to its complete wire form: header followed by data
// field. It fills in Header.DataFieldLength from the encoded body before
// emitting the header bytes, per spec.md §4.1.
func Encode(p *Pdu) ([]byte, error) {
	var body []byte

	switch {
	case p.Metadata != nil:
		p.Header.Type = TypeDirective
		body = encodeMetadata(p.Metadata, p.Header.LargeFileFlag)
		body = append([]byte{byte(DirectiveMetadata)}, body...)
	case p.EOF != nil:
		p.Header.Type = TypeDirective
		body = encodeEOF(p.EOF, p.Header)
		body = append([]byte{byte(DirectiveEOF)}, body...)
	case p.Finished != nil:
		p.Header.Type = TypeDirective
		body = encodeFinished(p.Finished)
		body = append([]byte{byte(DirectiveFinished)}, body...)
	case p.Ack != nil:
		p.Header.Type = TypeDirective
		body = encodeAck(p.Ack)
		body = append([]byte{byte(DirectiveAck)}, body...)
	case p.Nak != nil:
		p.Header.Type = TypeDirective
		body = encodeNak(p.Nak, p.Header.LargeFileFlag)
		body = append([]byte{byte(DirectiveNak)}, body...)
	case p.FileData != nil:
		p.Header.Type = TypeFileData
		body = encodeFileData(p.FileData, p.Header.LargeFileFlag)
	default:
		return nil, fmt.Errorf("pdu: empty Pdu has nothing to encode")
	}

	p.Header.DataFieldLength = uint16(len(body))
	header := p.Header.Encode()
	return append(header, body...), nil
}

// Decode parses a complete wire buffer into a Pdu. For directive PDUs whose
// code this package does not model (Prompt, KeepAlive), it returns a Pdu
// with only Header set and ErrUnsupportedDirective — callers are expected
// to tolerate this per spec.md §4.5.
func Decode(buf []byte) (*Pdu, error) {
	h, off, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}

	body := buf[off:]
	if len(body) < int(h.DataFieldLength) {
		return nil, ErrTruncatedBody
	}
	body = body[:h.DataFieldLength]

	if h.Type == TypeFileData {
		fd, err := decodeFileData(body, h.SegmentMetadataFlag, h.LargeFileFlag)
		if err != nil {
			return nil, err
		}
		return &Pdu{Header: h, FileData: fd}, nil
	}

	if len(body) < 1 {
		return nil, ErrTruncatedBody
	}
	code := DirectiveCode(body[0])
	rest := body[1:]

	switch code {
	case DirectiveMetadata:
		m, err := decodeMetadata(rest, h.LargeFileFlag)
		if err != nil {
			return nil, err
		}
		return &Pdu{Header: h, Metadata: m}, nil
	case DirectiveEOF:
		e, err := decodeEOF(rest, h)
		if err != nil {
			return nil, err
		}
		return &Pdu{Header: h, EOF: e}, nil
	case DirectiveFinished:
		f, err := decodeFinished(rest)
		if err != nil {
			return nil, err
		}
		return &Pdu{Header: h, Finished: f}, nil
	case DirectiveAck:
		a, err := decodeAck(rest)
		if err != nil {
			return nil, err
		}
		return &Pdu{Header: h, Ack: a}, nil
	case DirectiveNak:
		n, err := decodeNak(rest, h.LargeFileFlag)
		if err != nil {
			return nil, err
		}
		return &Pdu{Header: h, Nak: n}, nil
	default:
		return &Pdu{Header: h}, ErrUnsupportedDirective
	}
}

// --- Metadata ---

func encodeMetadata(m *MetadataBody, largeFile bool) []byte {
	var status uint8
	if m.ClosureRequested {
		status |= 0x40
	}
	status |= uint8(m.ChecksumType) & 0x0F

	w := offsetWidth(largeFile)
	buf := make([]byte, 1+w)
	buf[0] = status
	putUint(buf[1:], m.FileSize, w)

	buf = append(buf, byte(len(m.SourceFilename)))
	buf = append(buf, []byte(m.SourceFilename)...)
	buf = append(buf, byte(len(m.DestFilename)))
	buf = append(buf, []byte(m.DestFilename)...)
	return buf
}

func decodeMetadata(buf []byte, largeFile bool) (*MetadataBody, error) {
	w := offsetWidth(largeFile)
	if len(buf) < 1+w {
		return nil, ErrTruncatedBody
	}
	status := buf[0]
	fileSize, off := getUint(buf, 1, w)

	srcLen, srcName, off, err := readPascalString(buf, off)
	if err != nil {
		return nil, err
	}
	_ = srcLen
	dstLen, dstName, _, err := readPascalString(buf, off)
	if err != nil {
		return nil, err
	}
	_ = dstLen

	return &MetadataBody{
		ClosureRequested: status&0x40 != 0,
		ChecksumType:     ChecksumType(status & 0x0F),
		FileSize:         fileSize,
		SourceFilename:   srcName,
		DestFilename:     dstName,
	}, nil
}

func readPascalString(buf []byte, off int) (int, string, int, error) {
	if off >= len(buf) {
		return 0, "", off, ErrTruncatedBody
	}
	n := int(buf[off])
	off++
	if off+n > len(buf) {
		return 0, "", off, ErrTruncatedBody
	}
	return n, string(buf[off : off+n]), off + n, nil
}

// --- EOF ---

func encodeEOF(e *EOFBody, h *Header) []byte {
	status := byte(e.ConditionCode) << 4
	w := offsetWidth(h.LargeFileFlag)

	buf := make([]byte, 1+4+w)
	buf[0] = status
	binary.BigEndian.PutUint32(buf[1:5], e.Checksum)
	putUint(buf[5:], e.FileSize, w)

	if e.ConditionCode != ConditionNoError && e.HasFaultEntity {
		idBuf := make([]byte, h.EntityIDLength)
		putUint(idBuf, e.FaultEntityID, int(h.EntityIDLength))
		buf = append(buf, idBuf...)
	}
	return buf
}

func decodeEOF(buf []byte, h *Header) (*EOFBody, error) {
	w := offsetWidth(h.LargeFileFlag)
	if len(buf) < 1+4+w {
		return nil, ErrTruncatedBody
	}
	cc := ConditionCode(buf[0] >> 4)
	checksum := binary.BigEndian.Uint32(buf[1:5])
	fileSize, off := getUint(buf, 5, w)

	e := &EOFBody{
		ConditionCode: cc,
		Checksum:      checksum,
		FileSize:      fileSize,
	}

	if cc != ConditionNoError && off+int(h.EntityIDLength) <= len(buf) {
		id, _ := getUint(buf, off, int(h.EntityIDLength))
		e.FaultEntityID = id
		e.HasFaultEntity = true
	}

	return e, nil
}

// --- Finished ---

func encodeFinished(f *FinishedBody) []byte {
	b := byte(f.ConditionCode) << 4
	if f.ConditionCode == ConditionNoError && f.DeliveryCode {
		b |= 0x04
	}
	b |= byte(f.FileStatus) & 0x03
	return []byte{b}
}

func decodeFinished(buf []byte) (*FinishedBody, error) {
	if len(buf) < 1 {
		return nil, ErrTruncatedBody
	}
	b := buf[0]
	cc := ConditionCode(b >> 4)
	return &FinishedBody{
		ConditionCode: cc,
		DeliveryCode:  cc == ConditionNoError && b&0x04 != 0,
		FileStatus:    FileStatus(b & 0x03),
	}, nil
}

// --- Ack ---

func encodeAck(a *AckBody) []byte {
	b0 := byte(a.AckedDirective)<<4 | a.DirectiveSubtype&0x0F
	b1 := byte(a.ConditionCode)<<4 | byte(a.TransactionStatus)&0x03
	return []byte{b0, b1}
}

func decodeAck(buf []byte) (*AckBody, error) {
	if len(buf) < 2 {
		return nil, ErrTruncatedBody
	}
	return &AckBody{
		AckedDirective:    DirectiveCode(buf[0] >> 4),
		DirectiveSubtype:  buf[0] & 0x0F,
		ConditionCode:     ConditionCode(buf[1] >> 4),
		TransactionStatus: TransactionStatus(buf[1] & 0x03),
	}, nil
}

// --- Nak ---

func encodeNak(n *NakBody, largeFile bool) []byte {
	w := offsetWidth(largeFile)
	buf := make([]byte, 2*w)
	putUint(buf, n.StartOfScope, w)
	putUint(buf[w:], n.EndOfScope, w)

	for _, r := range n.Ranges {
		pair := make([]byte, 2*w)
		putUint(pair, r.Start, w)
		putUint(pair[w:], r.End, w)
		buf = append(buf, pair...)
	}
	return buf
}

func decodeNak(buf []byte, largeFile bool) (*NakBody, error) {
	w := offsetWidth(largeFile)
	if len(buf) < 2*w {
		return nil, ErrTruncatedBody
	}
	start, off := getUint(buf, 0, w)
	end, off := getUint(buf, off, w)

	n := &NakBody{StartOfScope: start, EndOfScope: end}
	for off+2*w <= len(buf) {
		rs, next := getUint(buf, off, w)
		re, next2 := getUint(buf, next, w)
		n.Ranges = append(n.Ranges, NakRange{Start: rs, End: re})
		off = next2
	}
	return n, nil
}

// --- FileData ---

func encodeFileData(f *FileDataBody, largeFile bool) []byte {
	var buf []byte

	if f.HasSegmentMetadata {
		meta := byte(f.RecordContinuation)<<6 | byte(len(f.SegmentMetadata))&0x3F
		buf = append(buf, meta)
		buf = append(buf, f.SegmentMetadata...)
	}

	w := offsetWidth(largeFile)
	offBuf := make([]byte, w)
	putUint(offBuf, f.Offset, w)
	buf = append(buf, offBuf...)
	buf = append(buf, f.Data...)
	return buf
}

func decodeFileData(buf []byte, hasSegmentMetadata, largeFile bool) (*FileDataBody, error) {
	f := &FileDataBody{HasSegmentMetadata: hasSegmentMetadata}
	off := 0

	if hasSegmentMetadata {
		if len(buf) < 1 {
			return nil, ErrTruncatedBody
		}
		meta := buf[0]
		f.RecordContinuation = meta >> 6
		n := int(meta & 0x3F)
		if len(buf) < 1+n {
			return nil, ErrTruncatedBody
		}
		f.SegmentMetadata = buf[1 : 1+n]
		off = 1 + n
	}

	w := offsetWidth(largeFile)
	if len(buf) < off+w {
		return nil, ErrTruncatedBody
	}
	offset, next := getUint(buf, off, w)
	f.Offset = offset
	f.Data = buf[next:]
	return f, nil
}
