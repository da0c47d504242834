package transaction

import "github.com/karatinsa/cfdp-go/pkg/pdu"

// Result is the outcome an entity engine publishes through its
// TransactionCompleted notification.
type Result struct {
	Success          bool
	ConditionCode    pdu.ConditionCode
	FileStatus       pdu.FileStatus
	BytesTransferred uint64
}

// SendFunc is the borrowed capability every transaction uses to emit PDU
// bytes toward a destination entity, supplied once at construction time.
type SendFunc func(pduBytes []byte, destinationEntityID uint64)
