package transaction

import (
	"path/filepath"
	"sync"

	"github.com/karatinsa/cfdp-go/pkg/checksum"
	"github.com/karatinsa/cfdp-go/pkg/config"
	"github.com/karatinsa/cfdp-go/pkg/filestore"
	"github.com/karatinsa/cfdp-go/internal/logger"
	"github.com/karatinsa/cfdp-go/pkg/pdu"
	"github.com/karatinsa/cfdp-go/pkg/segment"
)

// Receive drives a single inbound file transfer from the first PDU
// addressed to it through Metadata, FileData*, EOF, the completion
// attempt, and — in Acknowledged mode — Nak emission and Finished.
type Receive struct {
	id           ID
	sourceEntity uint64
	cfg          config.EntityConfig
	fs           filestore.Filestore
	send         SendFunc
	logger       logger.Logger

	mu    sync.Mutex
	state State

	mode             pdu.TransmissionMode
	closureRequested bool
	checksumType     pdu.ChecksumType
	checksumSet      bool

	sourceFilename string
	destFilename   string
	metadataSeen   bool

	segs        *segment.Map
	fileSize    uint64
	fileSizeSet bool
	largeFile   bool

	eofSeen       bool
	eofChecksum   uint32
	eofConditionCode pdu.ConditionCode

	nakRetries int

	result *Result
}

// NewReceive constructs a Receive transaction. Construction happens on
// receipt of the first PDU naming this transaction id; the first PDU
// itself should then be handed to HandlePdu.
func NewReceive(id ID, sourceEntity uint64, cfg config.EntityConfig, fs filestore.Filestore, send SendFunc, log logger.Logger) *Receive {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Receive{
		id:           id,
		sourceEntity: sourceEntity,
		cfg:          cfg,
		fs:           fs,
		send:         send,
		logger:       log,
		state:        StateActive,
		segs:         segment.New(),
		checksumType: config.ChecksumFromString(cfg.DefaultChecksumType),
	}
}

// ID returns the transaction identifier.
func (r *Receive) ID() ID { return r.id }

// State returns the current lifecycle state.
func (r *Receive) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns the terminal result, if the transaction has completed.
func (r *Receive) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return Result{}, false
	}
	return *r.result, true
}

// HandlePdu dispatches an inbound PDU body to this Receive transaction.
func (r *Receive) HandlePdu(p *pdu.Pdu) {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state != StateActive {
		return
	}

	switch {
	case p.Metadata != nil:
		r.handleMetadata(p.Metadata, p.Header)
	case p.FileData != nil:
		r.handleFileData(p.FileData)
	case p.EOF != nil:
		r.handleEOF(p.EOF, p.Header)
	}
}

func (r *Receive) handleMetadata(m *pdu.MetadataBody, h *pdu.Header) {
	r.mu.Lock()
	r.metadataSeen = true
	r.mode = h.TransmissionMode
	r.closureRequested = m.ClosureRequested
	r.checksumType = m.ChecksumType
	r.checksumSet = true
	r.sourceFilename = m.SourceFilename
	r.destFilename = m.DestFilename
	// Metadata's declared file size is advisory; EOF's is authoritative
	// and overrides it on arrival.
	if !r.fileSizeSet {
		r.fileSize = m.FileSize
	}
	r.mu.Unlock()
}

func (r *Receive) handleFileData(f *pdu.FileDataBody) {
	r.mu.Lock()
	r.segs.Insert(f.Offset, f.Data)
	r.mu.Unlock()

	r.attemptCompletion()
}

func (r *Receive) handleEOF(e *pdu.EOFBody, h *pdu.Header) {
	r.mu.Lock()
	r.eofSeen = true
	r.eofChecksum = e.Checksum
	r.eofConditionCode = e.ConditionCode
	r.fileSize = e.FileSize // EOF is authoritative over Metadata
	r.fileSizeSet = true
	r.largeFile = h.LargeFileFlag
	mode := r.mode
	r.mu.Unlock()

	if mode == pdu.ModeAcknowledged {
		ack := &pdu.Pdu{
			Header: r.header(h, h.LargeFileFlag),
			Ack: &pdu.AckBody{
				AckedDirective:    pdu.DirectiveEOF,
				DirectiveSubtype:  0,
				ConditionCode:     e.ConditionCode,
				TransactionStatus: pdu.TransactionStatusActive,
			},
		}
		r.emit(ack)
	}

	if e.ConditionCode != pdu.ConditionNoError {
		r.finishWith(false, e.ConditionCode, pdu.FileStatusUnreported)
		return
	}

	r.attemptCompletion()
}

// attemptCompletion runs the completion attempt procedure:
// enumerate gaps; if any and the mode is Acknowledged, emit a Nak (tracking
// the retry ceiling); if any and the mode is Unacknowledged, there is no
// retransmission mechanism to close the gap, so the transaction finishes
// with FileSizeError (spec.md §4.5 step 3); otherwise, once EOF has
// arrived and no gaps remain, assemble, verify checksum, commit, and
// finish.
func (r *Receive) attemptCompletion() {
	r.mu.Lock()
	if !r.eofSeen {
		r.mu.Unlock()
		return
	}
	gaps := r.segs.Gaps(r.fileSize)
	mode := r.mode
	r.mu.Unlock()

	if len(gaps) > 0 {
		if mode == pdu.ModeAcknowledged {
			r.emitNak(gaps)
		} else {
			r.finishWith(false, pdu.ConditionFileSizeError, pdu.FileStatusUnreported)
		}
		return
	}

	r.completeTransfer()
}

func (r *Receive) emitNak(gaps []segment.Gap) {
	r.mu.Lock()
	fileSize := r.fileSize
	largeFile := r.largeFile
	r.mu.Unlock()

	ranges := make([]pdu.NakRange, 0, len(gaps))
	for _, g := range gaps {
		ranges = append(ranges, pdu.NakRange{Start: g.Start, End: g.End})
	}

	p := &pdu.Pdu{
		Header: r.headerWithLarge(largeFile),
		Nak: &pdu.NakBody{
			StartOfScope: 0,
			EndOfScope:   fileSize,
			Ranges:       ranges,
		},
	}
	r.emit(p)

	r.mu.Lock()
	r.nakRetries++
	retries := r.nakRetries
	limit := r.cfg.MaxNakRetries
	r.mu.Unlock()

	if limit > 0 && retries > limit {
		r.finishWith(false, pdu.ConditionNakLimitReached, pdu.FileStatusUnreported)
	}
}

func (r *Receive) completeTransfer() {
	r.mu.Lock()
	fileSize := r.fileSize
	checksumType := r.checksumType
	expectedChecksum := r.eofChecksum
	destFilename := r.destFilename
	closure := r.closureRequested
	mode := r.mode
	r.mu.Unlock()

	buf, err := r.segs.Assemble(fileSize)
	if err != nil {
		// Gaps() reported none but assembly still failed: a gap slipped
		// through the check (spec.md §4.5 step 4). No retransmission is
		// possible at this point in either mode, so finish with
		// FileSizeError rather than leaving the transaction Active.
		r.finishWith(false, pdu.ConditionFileSizeError, pdu.FileStatusUnreported)
		return
	}

	actual := checksum.ForType(uint8(checksumType)).Sum(buf)
	if checksumType != pdu.ChecksumNull && actual != expectedChecksum {
		r.finishAfterCommit(false, pdu.ConditionFileChecksumFailure, destFilename, nil, mode, closure)
		return
	}

	r.finishAfterCommit(true, pdu.ConditionNoError, destFilename, buf, mode, closure)
}

func (r *Receive) finishAfterCommit(checksumOK bool, cc pdu.ConditionCode, destFilename string, buf []byte, mode pdu.TransmissionMode, closure bool) {
	fileStatus := pdu.FileStatusUnreported
	deliveryOK := checksumOK

	if checksumOK {
		if dir := filepath.Dir(destFilename); dir != "." && dir != "" {
			if err := r.fs.CreateDirectory(dir); err != nil {
				fileStatus = pdu.FileStatusDiscardedFilestoreReject
				deliveryOK = false
				cc = pdu.ConditionFilestoreRejection
			}
		}
		if deliveryOK {
			if err := r.fs.WriteAll(destFilename, buf); err != nil {
				fileStatus = pdu.FileStatusDiscardedFilestoreReject
				deliveryOK = false
				cc = pdu.ConditionFilestoreRejection
			} else {
				fileStatus = pdu.FileStatusRetainedSuccessfully
			}
		}
	} else {
		fileStatus = pdu.FileStatusDiscardedDeliberately
	}

	if mode == pdu.ModeAcknowledged || closure {
		finished := &pdu.Pdu{
			Header: r.header(nil, false),
			Finished: &pdu.FinishedBody{
				ConditionCode: cc,
				DeliveryCode:  deliveryOK,
				FileStatus:    fileStatus,
			},
		}
		r.emit(finished)
	}

	r.finishWith(deliveryOK, cc, fileStatus)
}

func (r *Receive) finishWith(success bool, cc pdu.ConditionCode, fileStatus pdu.FileStatus) {
	r.mu.Lock()
	r.state = StateComplete
	r.result = &Result{
		Success:          success,
		ConditionCode:    cc,
		FileStatus:       fileStatus,
		BytesTransferred: r.segs.BytesReceived(),
	}
	r.mu.Unlock()
}

// header builds an outbound header toward the sender, reusing an inbound
// header's framing widths when it carries them; a zero width is not a
// valid wire width, so the configured widths are used instead.
func (r *Receive) header(inbound *pdu.Header, largeFile bool) *pdu.Header {
	entityIDLen := r.cfg.EntityIDLength
	seqLen := r.cfg.SequenceNumberLength
	if inbound != nil && inbound.EntityIDLength > 0 && inbound.SequenceNumberLength > 0 {
		entityIDLen = inbound.EntityIDLength
		seqLen = inbound.SequenceNumberLength
	}
	return &pdu.Header{
		Version:              1,
		Direction:             pdu.DirectionTowardSender,
		TransmissionMode:      r.mode,
		CrcPresent:            r.cfg.UseCRC,
		LargeFileFlag:         largeFile,
		EntityIDLength:        entityIDLen,
		SequenceNumberLength:  seqLen,
		SourceEntityID:        r.id.SourceEntityID,
		TransactionSeqNumber:  r.id.SequenceNumber,
		DestinationEntityID:   r.sourceEntity,
	}
}

func (r *Receive) headerWithLarge(largeFile bool) *pdu.Header {
	return r.header(nil, largeFile)
}

func (r *Receive) emit(p *pdu.Pdu) {
	buf, err := pdu.Encode(p)
	if err != nil {
		r.logger.Error("transaction %s: encode failed: %v", r.id, err)
		return
	}
	r.send(buf, r.sourceEntity)
}

// OnNakTimeout fires when the NAK-wait timer expires while gaps remain
// outstanding and no fresh FileData has arrived to trigger a new
// completion attempt on its own. It re-runs the completion attempt so a
// peer that dropped the original Nak still gets re-prompted, counting the
// attempt against MaxNakRetries the same as a gap found on EOF/FileData
// receipt (spec.md §9 open question: the retry counter is not reset by
// this path either, matching attemptCompletion's non-resetting ceiling).
func (r *Receive) OnNakTimeout() {
	r.mu.Lock()
	active := r.state == StateActive && r.mode == pdu.ModeAcknowledged && r.eofSeen
	r.mu.Unlock()
	if !active {
		return
	}
	r.attemptCompletion()
}

// OnAckTimeout is a no-op for Receive: the ACK-wait timer belongs to the
// sender waiting on Finished, not the receiver.
func (r *Receive) OnAckTimeout() {}

// OnInactivityTimeout fires when no inbound PDU has arrived for the
// configured inactivity window while this transaction is still Active,
// terminating it with InactivityDetected and no file committed.
func (r *Receive) OnInactivityTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateActive {
		return
	}
	r.state = StateComplete
	r.result = &Result{Success: false, ConditionCode: pdu.ConditionInactivityDetected, FileStatus: pdu.FileStatusUnreported, BytesTransferred: r.segs.BytesReceived()}
}

// Cancel transitions to Cancelled from any non-terminal state.
func (r *Receive) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.IsTerminal() {
		return
	}
	r.state = StateCancelled
	r.result = &Result{Success: false, ConditionCode: pdu.ConditionCancelRequestReceived, FileStatus: pdu.FileStatusDiscardedDeliberately, BytesTransferred: r.segs.BytesReceived()}
}

// Suspend inhibits PDU processing from Active; a no-op otherwise.
func (r *Receive) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateActive {
		r.state = StateSuspended
	}
}

// Resume transitions Suspended back to Active; a no-op otherwise.
func (r *Receive) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateSuspended {
		r.state = StateActive
	}
}

// BytesReceived reports progress for status queries.
func (r *Receive) BytesReceived() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segs.BytesReceived()
}
