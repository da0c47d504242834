package transaction

import (
	"fmt"
	"sync"

	"github.com/karatinsa/cfdp-go/pkg/checksum"
	"github.com/karatinsa/cfdp-go/pkg/config"
	"github.com/karatinsa/cfdp-go/pkg/filestore"
	"github.com/karatinsa/cfdp-go/internal/logger"
	"github.com/karatinsa/cfdp-go/pkg/pdu"
)

// PutRequest is the caller-supplied description of a file transfer.
type PutRequest struct {
	DestinationEntityID uint64
	SourceFilename      string
	DestFilename        string

	TransmissionMode *pdu.TransmissionMode // nil = use MIB default/override
	ChecksumType     *pdu.ChecksumType     // nil = use MIB default/override
	ClosureRequested bool
}

// Send drives a single outbound file transfer: Metadata, FileData*, EOF,
// and — in Acknowledged mode — the NAK-retransmission / Finished / Ack
// handshake.
type Send struct {
	id     ID
	req    PutRequest
	cfg    config.EntityConfig
	fs     filestore.Filestore
	send   SendFunc
	logger logger.Logger

	mu    sync.Mutex
	state State

	mode         pdu.TransmissionMode
	checksumType pdu.ChecksumType
	maxSegment   uint32
	closure      bool

	fileBytes []byte
	fileSize  uint64
	fileCRC   uint32

	bytesSent    uint64
	eofSent      bool
	eofAcked     bool
	nakRetries   int
	lastNakBytes uint64
	ackRetries   int
	strictNakAccounting bool

	result *Result
}

// SendOption configures optional Send behavior at construction time.
type SendOption func(*Send)

// WithStrictNakAccounting disables the forward-progress reset on the NAK
// retry counter: every NAK increments it regardless of whether the
// requested range shrank since the last one. Some peer implementations
// NAK the same unfilled range repeatedly while still making progress on
// other segments in parallel, which the default forward-progress
// heuristic would read as stalled; this option restores the simpler,
// strictly-monotonic ceiling for interop with those peers.
func WithStrictNakAccounting() SendOption {
	return func(s *Send) { s.strictNakAccounting = true }
}

// NewSend constructs a Send transaction. It does not start sending — call
// Start for that.
func NewSend(id ID, req PutRequest, cfg config.EntityConfig, fs filestore.Filestore, send SendFunc, log logger.Logger, opts ...SendOption) *Send {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	s := &Send{
		id:     id,
		req:    req,
		cfg:    cfg,
		fs:     fs,
		send:   send,
		logger: log,
		state:  StateInitial,
	}

	s.mode = resolveMode(req, cfg)
	s.checksumType = resolveChecksumType(req, cfg)
	s.maxSegment = resolveMaxSegment(cfg)
	s.closure = req.ClosureRequested || s.mode == pdu.ModeAcknowledged

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// resolveMode picks effective mode: explicit request, then per-remote MIB
// override, then entity default.
func resolveMode(req PutRequest, cfg config.EntityConfig) pdu.TransmissionMode {
	if req.TransmissionMode != nil {
		return *req.TransmissionMode
	}
	if remote, ok := cfg.RemoteEntity(req.DestinationEntityID); ok && remote.TransmissionMode != "" {
		return config.ModeFromString(remote.TransmissionMode)
	}
	return config.ModeFromString(cfg.DefaultMode)
}

func resolveChecksumType(req PutRequest, cfg config.EntityConfig) pdu.ChecksumType {
	if req.ChecksumType != nil {
		return *req.ChecksumType
	}
	if remote, ok := cfg.RemoteEntity(req.DestinationEntityID); ok && remote.ChecksumType != "" {
		return config.ChecksumFromString(remote.ChecksumType)
	}
	return config.ChecksumFromString(cfg.DefaultChecksumType)
}

func resolveMaxSegment(cfg config.EntityConfig) uint32 {
	return cfg.MaxFileSegmentLength
}

// ID returns the transaction identifier.
func (s *Send) ID() ID { return s.id }

// State returns the current lifecycle state.
func (s *Send) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the terminal result, if the transaction has completed.
func (s *Send) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

func resolveMaxSegmentForRemote(cfg config.EntityConfig, destinationEntityID uint64) uint32 {
	max := cfg.MaxFileSegmentLength
	if remote, ok := cfg.RemoteEntity(destinationEntityID); ok && remote.MaxFileSegmentLength > 0 {
		if remote.MaxFileSegmentLength < max || max == 0 {
			max = remote.MaxFileSegmentLength
		}
	}
	return max
}

// Start transitions Initial -> Active, reads the source file, and emits
// Metadata, the FileData sequence, and EOF.
func (s *Send) Start() error {
	s.mu.Lock()
	if s.state != StateInitial {
		s.mu.Unlock()
		return fmt.Errorf("transaction: Start called in state %s", s.state)
	}
	s.state = StateActive
	s.mu.Unlock()

	data, err := s.fs.ReadAll(s.req.SourceFilename)
	if err != nil {
		return s.fail(pdu.ConditionFilestoreRejection)
	}

	s.mu.Lock()
	s.fileBytes = data
	s.fileSize = uint64(len(data))
	s.fileCRC = checksum.ForType(uint8(s.checksumType)).Sum(data)
	s.maxSegment = resolveMaxSegmentForRemote(s.cfg, s.req.DestinationEntityID)
	s.mu.Unlock()

	s.emitMetadata()
	s.emitFileDataSequence(0, s.fileSize)
	s.emitEOF(pdu.ConditionNoError, false, 0)

	s.mu.Lock()
	s.eofSent = true
	mode := s.mode
	s.mu.Unlock()

	if mode == pdu.ModeUnacknowledged {
		s.mu.Lock()
		s.state = StateComplete
		s.result = &Result{Success: true, ConditionCode: pdu.ConditionNoError, FileStatus: pdu.FileStatusUnreported, BytesTransferred: s.fileSize}
		s.mu.Unlock()
	}

	return nil
}

func (s *Send) header(direction pdu.Direction, largeFile bool) *pdu.Header {
	return &pdu.Header{
		Version:              1,
		Direction:            direction,
		TransmissionMode:     s.mode,
		CrcPresent:           s.cfg.UseCRC,
		LargeFileFlag:        largeFile,
		EntityIDLength:       s.cfg.EntityIDLength,
		SequenceNumberLength: s.cfg.SequenceNumberLength,
		SourceEntityID:       s.id.SourceEntityID,
		TransactionSeqNumber: s.id.SequenceNumber,
		DestinationEntityID:  s.req.DestinationEntityID,
	}
}

func (s *Send) largeFile() bool {
	return s.fileSize > 1<<32-1
}

func (s *Send) emitMetadata() {
	p := &pdu.Pdu{
		Header: s.header(pdu.DirectionTowardReceiver, s.largeFile()),
		Metadata: &pdu.MetadataBody{
			ClosureRequested: s.closure,
			ChecksumType:     s.checksumType,
			FileSize:         s.fileSize,
			SourceFilename:   s.req.SourceFilename,
			DestFilename:     s.req.DestFilename,
		},
	}
	s.emit(p)
}

// emitFileDataSequence emits FileData PDUs covering [start, end) in
// strict ascending offset order, each at most maxSegment bytes long.
func (s *Send) emitFileDataSequence(start, end uint64) {
	s.mu.Lock()
	maxSeg := uint64(s.maxSegment)
	data := s.fileBytes
	s.mu.Unlock()

	if maxSeg == 0 {
		maxSeg = uint64(len(data))
		if maxSeg == 0 {
			maxSeg = 1
		}
	}

	for off := start; off < end; off += maxSeg {
		segEnd := off + maxSeg
		if segEnd > end {
			segEnd = end
		}
		p := &pdu.Pdu{
			Header: s.header(pdu.DirectionTowardReceiver, s.largeFile()),
			FileData: &pdu.FileDataBody{
				Offset: off,
				Data:   data[off:segEnd],
			},
		}
		s.emit(p)

		s.mu.Lock()
		if segEnd > s.bytesSent {
			s.bytesSent = segEnd
		}
		s.mu.Unlock()
	}
}

func (s *Send) emitEOF(cc pdu.ConditionCode, hasFault bool, faultEntity uint64) {
	s.mu.Lock()
	crc := s.fileCRC
	size := s.fileSize
	s.mu.Unlock()

	p := &pdu.Pdu{
		Header: s.header(pdu.DirectionTowardReceiver, s.largeFile()),
		EOF: &pdu.EOFBody{
			ConditionCode:  cc,
			Checksum:       crc,
			FileSize:       size,
			FaultEntityID:  faultEntity,
			HasFaultEntity: hasFault,
		},
	}
	s.emit(p)
}

func (s *Send) emit(p *pdu.Pdu) {
	buf, err := pdu.Encode(p)
	if err != nil {
		s.logger.Error("transaction %s: encode failed: %v", s.id, err)
		return
	}
	s.send(buf, s.req.DestinationEntityID)
}

func (s *Send) fail(cc pdu.ConditionCode) error {
	s.mu.Lock()
	s.state = StateComplete
	s.result = &Result{Success: false, ConditionCode: cc, FileStatus: pdu.FileStatusUnreported, BytesTransferred: s.bytesSent}
	s.mu.Unlock()
	return cc
}

// HandlePdu dispatches an inbound directive to this Send transaction. Only
// meaningful in Acknowledged mode: Class-1 ignores all inbound PDUs since
// it has already terminated by the time any could arrive.
func (s *Send) HandlePdu(p *pdu.Pdu) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateActive {
		return
	}

	switch {
	case p.Nak != nil:
		s.handleNak(p.Nak)
	case p.Ack != nil:
		s.handleAck(p.Ack)
	case p.Finished != nil:
		s.handleFinished(p.Finished)
	}
}

func (s *Send) handleNak(n *pdu.NakBody) {
	s.mu.Lock()
	fileSize := s.fileSize
	s.mu.Unlock()

	var requested uint64
	for _, r := range n.Ranges {
		if r.End > fileSize {
			continue // straddles EOF; silently skipped
		}
		requested += r.End - r.Start
		s.emitFileDataSequence(r.Start, r.End)
	}

	s.mu.Lock()
	if !s.strictNakAccounting && s.lastNakBytes > 0 && requested < s.lastNakBytes {
		s.nakRetries = 0 // requested range shrank since the last NAK: forward progress
	}
	s.lastNakBytes = requested
	s.nakRetries++
	retries := s.nakRetries
	limit := s.cfg.MaxNakRetries
	s.mu.Unlock()

	if limit > 0 && retries > limit {
		s.mu.Lock()
		s.state = StateComplete
		s.result = &Result{Success: false, ConditionCode: pdu.ConditionNakLimitReached, FileStatus: pdu.FileStatusUnreported, BytesTransferred: s.bytesSent}
		s.mu.Unlock()
	}
}

func (s *Send) handleAck(a *pdu.AckBody) {
	if a.AckedDirective == pdu.DirectiveEOF {
		s.mu.Lock()
		s.eofAcked = true
		s.mu.Unlock()
	}
}

func (s *Send) handleFinished(f *pdu.FinishedBody) {
	ack := &pdu.Pdu{
		Header: s.header(pdu.DirectionTowardReceiver, s.largeFile()),
		Ack: &pdu.AckBody{
			AckedDirective:    pdu.DirectiveFinished,
			DirectiveSubtype:  pdu.AckedFinishedSubtype,
			ConditionCode:     f.ConditionCode,
			TransactionStatus: pdu.TransactionStatusTerminated,
		},
	}
	s.emit(ack)

	s.mu.Lock()
	s.state = StateComplete
	s.result = &Result{
		Success:          f.ConditionCode == pdu.ConditionNoError,
		ConditionCode:    f.ConditionCode,
		FileStatus:       f.FileStatus,
		BytesTransferred: s.fileSize,
	}
	s.mu.Unlock()
}

// OnAckTimeout fires when the ACK-wait timer expires without a Finished
// PDU having arrived. It re-sends EOF and counts the attempt against
// MaxAckRetries; exceeding the ceiling terminates with
// PositiveAckLimitReached (spec.md ConditionCode PositiveAckLimitReached).
// A no-op once EOF has already been acknowledged or the mode is
// Unacknowledged, since Class 1 never waits on Finished.
func (s *Send) OnAckTimeout() {
	s.mu.Lock()
	if s.state != StateActive || s.mode != pdu.ModeAcknowledged || s.eofAcked {
		s.mu.Unlock()
		return
	}
	s.ackRetries++
	retries := s.ackRetries
	limit := s.cfg.MaxAckRetries
	s.mu.Unlock()

	if limit > 0 && retries > limit {
		s.mu.Lock()
		s.state = StateComplete
		s.result = &Result{Success: false, ConditionCode: pdu.ConditionPositiveAckLimitReached, FileStatus: pdu.FileStatusUnreported, BytesTransferred: s.bytesSent}
		s.mu.Unlock()
		return
	}

	s.emitEOF(pdu.ConditionNoError, false, 0)
}

// OnNakTimeout is a no-op for Send: the NAK-wait timer belongs to the
// receiver deciding when to re-request missing ranges, not the sender.
func (s *Send) OnNakTimeout() {}

// OnInactivityTimeout fires when no inbound PDU has arrived for the
// configured inactivity window while this transaction is still Active,
// terminating it with InactivityDetected.
func (s *Send) OnInactivityTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.state = StateComplete
	s.result = &Result{Success: false, ConditionCode: pdu.ConditionInactivityDetected, FileStatus: pdu.FileStatusUnreported, BytesTransferred: s.bytesSent}
}

// Cancel transitions to Cancelled from any non-terminal state.
func (s *Send) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.state = StateCancelled
	s.result = &Result{Success: false, ConditionCode: pdu.ConditionCancelRequestReceived, FileStatus: pdu.FileStatusUnreported, BytesTransferred: s.bytesSent}
}

// Suspend inhibits emission from Active; a no-op otherwise.
func (s *Send) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.state = StateSuspended
	}
}

// Resume transitions Suspended back to Active; a no-op otherwise.
func (s *Send) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSuspended {
		s.state = StateActive
	}
}

// BytesSent reports progress for status queries.
func (s *Send) BytesSent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}
