package pdu

import (
	"bytes"
	"testing"
)

func baseHeader(widths uint8) *Header {
	return &Header{
		Version:              1,
		Direction:            DirectionTowardReceiver,
		TransmissionMode:     ModeAcknowledged,
		EntityIDLength:       widths,
		SequenceNumberLength: widths,
		SourceEntityID:       1,
		TransactionSeqNumber: 42,
		DestinationEntityID:  2,
	}
}

func TestHeaderSizeArithmetic(t *testing.T) {
	for w := uint8(1); w <= 8; w++ {
		h := baseHeader(w)
		buf := h.Encode()
		if len(buf) != h.Size() {
			t.Fatalf("width %d: len=%d size=%d", w, len(buf), h.Size())
		}
		if h.Size() != 4+2*int(w)+int(w) {
			t.Fatalf("width %d: unexpected size %d", w, h.Size())
		}
	}
}

func TestHeaderRoundTripAllWidths(t *testing.T) {
	for w := uint8(1); w <= 8; w++ {
		h := baseHeader(w)
		h.CrcPresent = true
		h.LargeFileFlag = w%2 == 0
		h.DataFieldLength = 7
		buf := h.Encode()

		got, n, err := DecodeHeader(buf)
		if err != nil {
			t.Fatalf("width %d: %v", w, err)
		}
		if n != len(buf) {
			t.Fatalf("width %d: consumed %d, want %d", w, n, len(buf))
		}
		if *got != *h {
			t.Fatalf("width %d: round-trip mismatch: got %+v want %+v", w, got, h)
		}
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	if _, _, err := DecodeHeader([]byte{1, 2, 3}); err != ErrTruncatedHeader {
		t.Fatalf("expected ErrTruncatedHeader, got %v", err)
	}

	h := baseHeader(4)
	buf := h.Encode()
	if _, _, err := DecodeHeader(buf[:5]); err != ErrTruncatedHeader {
		t.Fatalf("expected ErrTruncatedHeader, got %v", err)
	}
}

func encodeDecode(t *testing.T, p *Pdu) *Pdu {
	t.Helper()
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf) != got.Header.Size()+int(got.Header.DataFieldLength) {
		t.Fatalf("header arithmetic: len=%d size=%d dfl=%d", len(buf), got.Header.Size(), got.Header.DataFieldLength)
	}
	return got
}

func TestMetadataRoundTrip(t *testing.T) {
	h := baseHeader(2)
	p := &Pdu{
		Header: h,
		Metadata: &MetadataBody{
			ClosureRequested: true,
			ChecksumType:     ChecksumCRC32,
			FileSize:         1000,
			SourceFilename:   "a.bin",
			DestFilename:     "b.bin",
		},
	}
	got := encodeDecode(t, p)
	if *got.Metadata != *p.Metadata {
		t.Fatalf("got %+v want %+v", got.Metadata, p.Metadata)
	}
}

func TestMetadataRoundTripLargeFile(t *testing.T) {
	h := baseHeader(2)
	h.LargeFileFlag = true
	p := &Pdu{
		Header: h,
		Metadata: &MetadataBody{
			ChecksumType:   ChecksumModular,
			FileSize:       1 << 40,
			SourceFilename: "x",
			DestFilename:   "y",
		},
	}
	got := encodeDecode(t, p)
	if got.Metadata.FileSize != p.Metadata.FileSize {
		t.Fatalf("got %d want %d", got.Metadata.FileSize, p.Metadata.FileSize)
	}
}

func TestEOFRoundTripNoFault(t *testing.T) {
	h := baseHeader(2)
	p := &Pdu{
		Header: h,
		EOF: &EOFBody{
			ConditionCode: ConditionNoError,
			Checksum:      0x01020300,
			FileSize:      3,
		},
	}
	got := encodeDecode(t, p)
	if *got.EOF != *p.EOF {
		t.Fatalf("got %+v want %+v", got.EOF, p.EOF)
	}
}

func TestEOFRoundTripWithFaultEntity(t *testing.T) {
	h := baseHeader(3)
	p := &Pdu{
		Header: h,
		EOF: &EOFBody{
			ConditionCode:  ConditionFileChecksumFailure,
			Checksum:       0xdeadbeef,
			FileSize:       99,
			FaultEntityID:  7,
			HasFaultEntity: true,
		},
	}
	got := encodeDecode(t, p)
	if *got.EOF != *p.EOF {
		t.Fatalf("got %+v want %+v", got.EOF, p.EOF)
	}
}

func TestFinishedRoundTrip(t *testing.T) {
	h := baseHeader(1)
	p := &Pdu{
		Header: h,
		Finished: &FinishedBody{
			ConditionCode: ConditionNoError,
			DeliveryCode:  true,
			FileStatus:    FileStatusRetainedSuccessfully,
		},
	}
	got := encodeDecode(t, p)
	if *got.Finished != *p.Finished {
		t.Fatalf("got %+v want %+v", got.Finished, p.Finished)
	}
}

func TestFinishedDeliveryCodeOnlyWhenNoError(t *testing.T) {
	h := baseHeader(1)
	p := &Pdu{
		Header: h,
		Finished: &FinishedBody{
			ConditionCode: ConditionCancelRequestReceived,
			DeliveryCode:  true, // must be forced false on the wire
			FileStatus:    FileStatusDiscardedDeliberately,
		},
	}
	got := encodeDecode(t, p)
	if got.Finished.DeliveryCode {
		t.Fatal("delivery code must be false when condition code is not NoError")
	}
}

func TestAckRoundTrip(t *testing.T) {
	h := baseHeader(1)
	p := &Pdu{
		Header: h,
		Ack: &AckBody{
			AckedDirective:    DirectiveFinished,
			DirectiveSubtype:  AckedFinishedSubtype,
			ConditionCode:     ConditionNoError,
			TransactionStatus: TransactionStatusTerminated,
		},
	}
	got := encodeDecode(t, p)
	if *got.Ack != *p.Ack {
		t.Fatalf("got %+v want %+v", got.Ack, p.Ack)
	}
}

func TestNakRoundTrip(t *testing.T) {
	h := baseHeader(2)
	p := &Pdu{
		Header: h,
		Nak: &NakBody{
			StartOfScope: 0,
			EndOfScope:   1000,
			Ranges:       []NakRange{{Start: 400, End: 800}, {Start: 900, End: 1000}},
		},
	}
	got := encodeDecode(t, p)
	if got.Nak.StartOfScope != p.Nak.StartOfScope || got.Nak.EndOfScope != p.Nak.EndOfScope {
		t.Fatalf("scope mismatch: %+v", got.Nak)
	}
	if len(got.Nak.Ranges) != len(p.Nak.Ranges) {
		t.Fatalf("range count mismatch: %+v", got.Nak.Ranges)
	}
	for i := range p.Nak.Ranges {
		if got.Nak.Ranges[i] != p.Nak.Ranges[i] {
			t.Fatalf("range %d mismatch: got %+v want %+v", i, got.Nak.Ranges[i], p.Nak.Ranges[i])
		}
	}
}

func TestNakEmptyRanges(t *testing.T) {
	h := baseHeader(2)
	p := &Pdu{Header: h, Nak: &NakBody{StartOfScope: 0, EndOfScope: 10}}
	got := encodeDecode(t, p)
	if len(got.Nak.Ranges) != 0 {
		t.Fatalf("expected no ranges, got %v", got.Nak.Ranges)
	}
}

func TestFileDataRoundTripNoSegmentMetadata(t *testing.T) {
	h := baseHeader(2)
	p := &Pdu{
		Header: h,
		FileData: &FileDataBody{
			Offset: 400,
			Data:   bytes.Repeat([]byte{0xAB}, 400),
		},
	}
	got := encodeDecode(t, p)
	if got.FileData.Offset != p.FileData.Offset || !bytes.Equal(got.FileData.Data, p.FileData.Data) {
		t.Fatalf("mismatch: %+v", got.FileData)
	}
}

func TestFileDataRoundTripWithSegmentMetadata(t *testing.T) {
	h := baseHeader(1)
	h.SegmentMetadataFlag = true
	p := &Pdu{
		Header: h,
		FileData: &FileDataBody{
			HasSegmentMetadata: true,
			RecordContinuation: 0x02,
			SegmentMetadata:    []byte{0x11, 0x22, 0x33},
			Offset:             10,
			Data:               []byte{1, 2, 3, 4},
		},
	}
	got := encodeDecode(t, p)
	if got.FileData.RecordContinuation != p.FileData.RecordContinuation {
		t.Fatalf("continuation mismatch")
	}
	if !bytes.Equal(got.FileData.SegmentMetadata, p.FileData.SegmentMetadata) {
		t.Fatalf("segment metadata mismatch")
	}
	if !bytes.Equal(got.FileData.Data, p.FileData.Data) {
		t.Fatalf("data mismatch")
	}
}

func TestDecodeTolerantOfUnsupportedDirective(t *testing.T) {
	h := baseHeader(1)
	h.Type = TypeDirective
	h.DataFieldLength = 1
	buf := h.Encode()
	buf = append(buf, byte(DirectivePrompt))

	p, err := Decode(buf)
	if err != ErrUnsupportedDirective {
		t.Fatalf("expected ErrUnsupportedDirective, got %v", err)
	}
	if p == nil || p.Header == nil {
		t.Fatal("expected header to still be decoded")
	}
}
