package pdu

// DirectiveCode identifies the variant of a directive PDU. It is the first
// byte of the data field whenever Header.Type == TypeDirective.
type DirectiveCode uint8

const (
	DirectiveEOF        DirectiveCode = 0x04
	DirectiveFinished    DirectiveCode = 0x05
	DirectiveAck         DirectiveCode = 0x06
	DirectiveMetadata    DirectiveCode = 0x07
	DirectiveNak         DirectiveCode = 0x08
	DirectivePrompt      DirectiveCode = 0x09
	DirectiveKeepAlive   DirectiveCode = 0x0C
)

// ChecksumType selects the checksum algorithm negotiated for a transaction.
type ChecksumType uint8

const (
	ChecksumModular ChecksumType = 0
	ChecksumCRC32   ChecksumType = 1
	ChecksumCRC32C  ChecksumType = 2
	ChecksumNull    ChecksumType = 15
)

// ConditionCode is the CFDP fault/completion taxonomy. Values are bit-exact
// on the wire.
type ConditionCode uint8

const (
	ConditionNoError                  ConditionCode = 0
	ConditionPositiveAckLimitReached   ConditionCode = 1
	ConditionKeepAliveLimitReached     ConditionCode = 2
	ConditionInvalidTransmissionMode   ConditionCode = 3
	ConditionFilestoreRejection        ConditionCode = 4
	ConditionFileChecksumFailure       ConditionCode = 5
	ConditionFileSizeError             ConditionCode = 6
	ConditionNakLimitReached           ConditionCode = 7
	ConditionInactivityDetected        ConditionCode = 8
	ConditionInvalidFileStructure      ConditionCode = 9
	ConditionCheckLimitReached         ConditionCode = 10
	ConditionUnsupportedChecksumType   ConditionCode = 11
	ConditionSuspendRequestReceived    ConditionCode = 14
	ConditionCancelRequestReceived     ConditionCode = 15
)

// reasons maps a ConditionCode to a human-readable description. It backs
// ConditionCode's error.Error implementation.
var reasons = map[ConditionCode]string{
	ConditionNoError:                "no error",
	ConditionPositiveAckLimitReached: "positive ack limit reached",
	ConditionKeepAliveLimitReached:   "keep alive limit reached",
	ConditionInvalidTransmissionMode: "invalid transmission mode",
	ConditionFilestoreRejection:      "filestore rejection",
	ConditionFileChecksumFailure:     "file checksum failure",
	ConditionFileSizeError:           "file size error",
	ConditionNakLimitReached:         "nak limit reached",
	ConditionInactivityDetected:      "inactivity detected",
	ConditionInvalidFileStructure:    "invalid file structure",
	ConditionCheckLimitReached:       "check limit reached",
	ConditionUnsupportedChecksumType: "unsupported checksum type",
	ConditionSuspendRequestReceived:  "suspend request received",
	ConditionCancelRequestReceived:   "cancel request received",
}

// Error satisfies the error interface so a ConditionCode can be returned
// directly from functions that fail with a wire-visible fault reason.
func (c ConditionCode) Error() string {
	if r, ok := reasons[c]; ok {
		return r
	}
	return "unknown condition code"
}

// FileStatus is the 2-bit delivery outcome carried in a Finished PDU.
type FileStatus uint8

const (
	FileStatusDiscardedDeliberately    FileStatus = 0
	FileStatusDiscardedFilestoreReject FileStatus = 1
	FileStatusRetainedSuccessfully     FileStatus = 2
	FileStatusUnreported               FileStatus = 3
)

// TransactionStatus is carried in an Ack(Finished) PDU's status field.
type TransactionStatus uint8

const (
	TransactionStatusUndefined  TransactionStatus = 0
	TransactionStatusActive    TransactionStatus = 1
	TransactionStatusTerminated TransactionStatus = 2
	TransactionStatusUnrecognized TransactionStatus = 3
)

// AckedFinishedSubtype is the subtype value used when an Ack PDU
// acknowledges a Finished directive.
const AckedFinishedSubtype = 1
