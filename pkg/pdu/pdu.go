package pdu

import "fmt"

// Pdu is the sum type over every PDU body variant this package knows how to
// encode and decode. Exactly one of the embedded pointers is non-nil.
type Pdu struct {
	Header *Header

	Metadata *MetadataBody
	EOF      *EOFBody
	Finished *FinishedBody
	Ack      *AckBody
	Nak      *NakBody
	FileData *FileDataBody
}

// MetadataBody is the opener PDU's data field.
type MetadataBody struct {
	ClosureRequested bool
	ChecksumType     ChecksumType
	FileSize         uint64
	SourceFilename   string
	DestFilename     string
}

// EOFBody closes a transfer with the sender's checksum and file size.
type EOFBody struct {
	ConditionCode  ConditionCode
	Checksum       uint32
	FileSize       uint64
	FaultEntityID  uint64
	HasFaultEntity bool
}

// FinishedBody is the receiver's terminal statement.
type FinishedBody struct {
	ConditionCode ConditionCode
	DeliveryCode  bool
	FileStatus    FileStatus
}

// AckBody acknowledges a directive, most commonly Finished.
type AckBody struct {
	AckedDirective    DirectiveCode
	DirectiveSubtype  uint8
	ConditionCode     ConditionCode
	TransactionStatus TransactionStatus
}

// NakRange is one (start, end) missing byte-range request.
type NakRange struct {
	Start uint64
	End   uint64
}

// NakBody lists missing byte ranges within a scope.
type NakBody struct {
	StartOfScope uint64
	EndOfScope   uint64
	Ranges       []NakRange
}

// FileDataBody is a file-data PDU's payload.
type FileDataBody struct {
	HasSegmentMetadata bool
	RecordContinuation uint8 // top 2 bits of the segment metadata byte
	SegmentMetadata    []byte
	Offset             uint64
	Data               []byte
}

func (p *Pdu) String() string {
	switch {
	case p.Metadata != nil:
		return fmt.Sprintf("Metadata{size=%d src=%q dst=%q}", p.Metadata.FileSize, p.Metadata.SourceFilename, p.Metadata.DestFilename)
	case p.EOF != nil:
		return fmt.Sprintf("EOF{cc=%d size=%d checksum=%08x}", p.EOF.ConditionCode, p.EOF.FileSize, p.EOF.Checksum)
	case p.Finished != nil:
		return fmt.Sprintf("Finished{cc=%d delivery=%v status=%d}", p.Finished.ConditionCode, p.Finished.DeliveryCode, p.Finished.FileStatus)
	case p.Ack != nil:
		return fmt.Sprintf("Ack{directive=%d cc=%d status=%d}", p.Ack.AckedDirective, p.Ack.ConditionCode, p.Ack.TransactionStatus)
	case p.Nak != nil:
		return fmt.Sprintf("Nak{scope=[%d,%d) ranges=%d}", p.Nak.StartOfScope, p.Nak.EndOfScope, len(p.Nak.Ranges))
	case p.FileData != nil:
		return fmt.Sprintf("FileData{offset=%d len=%d}", p.FileData.Offset, len(p.FileData.Data))
	default:
		return "Pdu{empty}"
	}
}

// IsDirective reports whether p carries a directive body (as opposed to
// file data).
func (p *Pdu) IsDirective() bool {
	return p.FileData == nil
}
