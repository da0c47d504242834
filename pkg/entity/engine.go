// Package entity implements the per-entity registry that demultiplexes
// inbound PDUs to transactions, assigns outbound transaction sequence
// numbers, and exposes the put/cancel/suspend/resume/status surface.
package entity

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karatinsa/cfdp-go/pkg/config"
	"github.com/karatinsa/cfdp-go/pkg/filestore"
	"github.com/karatinsa/cfdp-go/internal/logger"
	"github.com/karatinsa/cfdp-go/internal/queue"
	"github.com/karatinsa/cfdp-go/pkg/pdu"
	"github.com/karatinsa/cfdp-go/pkg/transaction"
)

// pollInterval is how often the engine's timer scheduler checks for
// expired inactivity/ack/nak timers. It is independent of the configured
// timeout durations themselves, which are typically much longer.
const pollInterval = 200 * time.Millisecond

// txHandle is the common surface the engine needs from either a
// *transaction.Send or a *transaction.Receive, so the registry can hold
// both behind one interface. Each transaction exclusively owns its own
// state; the engine only ever forwards to it.
type txHandle interface {
	HandlePdu(p *pdu.Pdu)
	State() transaction.State
	Result() (transaction.Result, bool)
	Cancel()
	Suspend()
	Resume()
	OnInactivityTimeout()
	OnAckTimeout()
	OnNakTimeout()
}

// Notifications groups the three points at which the engine observes
// transaction lifecycle events. Any field left nil is simply not invoked.
type Notifications struct {
	OnTransactionCreated   func(id transaction.ID)
	OnTransactionCompleted func(id transaction.ID, result transaction.Result)
	OnPduReady             func(pduBytes []byte, destinationEntityID uint64)
}

// Engine owns an entity's configuration and transaction table.
type Engine struct {
	cfg    config.EntityConfig
	fs     filestore.Filestore
	logger logger.Logger
	notify Notifications

	seq atomic.Uint64

	mu           sync.Mutex
	transactions map[transaction.ID]txHandle

	timers *queue.TimerQueue
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Engine bound to cfg, fs, and the given notification
// callbacks, and starts its timer scheduler goroutine (inactivity/ack/nak
// timeouts, spec.md §4.9/§5). log may be nil (defaults to a no-op logger).
// Callers should invoke Close when the entity is torn down.
func New(cfg config.EntityConfig, fs filestore.Filestore, notify Notifications, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	e := &Engine{
		cfg:          cfg,
		fs:           fs,
		logger:       log,
		notify:       notify,
		transactions: make(map[transaction.ID]txHandle),
		timers:       queue.NewTimerQueue(),
		stopCh:       make(chan struct{}),
	}
	e.wg.Add(1)
	go e.runTimers()
	return e
}

// Close stops the timer scheduler and cancels every live transaction, per
// spec.md §5's teardown contract. It does not close the filestore or send
// callback, which are borrowed capabilities owned by the caller.
func (e *Engine) Close() {
	close(e.stopCh)
	e.wg.Wait()

	for _, id := range e.GetActiveTransactions() {
		e.Cancel(id)
	}
}

func (e *Engine) runTimers() {
	defer e.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

// tick fires every armed timer whose deadline has passed, dispatches it
// to the owning transaction, and — if the transaction survives — re-arms
// that same timer kind for another interval so ack/nak timeouts keep
// retrying until the transaction terminates or the configured ceiling is
// exceeded. A tick for a transaction no longer in the registry (already
// terminal and removed) is silently discarded, matching §5's requirement
// that a timer tick never bypass the terminal-state check.
func (e *Engine) tick(now time.Time) {
	for _, entry := range e.timers.PopReady(now) {
		id, ok := transaction.ParseID(entry.TransactionKey)
		if !ok {
			continue
		}
		h, ok := e.lookup(id)
		if !ok {
			continue
		}

		switch entry.Kind {
		case queue.KindInactivity:
			h.OnInactivityTimeout()
		case queue.KindAck:
			h.OnAckTimeout()
		case queue.KindNak:
			h.OnNakTimeout()
		}

		e.finalizeIfTerminal(id, h)
		if !h.State().IsTerminal() {
			e.armTimer(entry.TransactionKey, entry.Kind, now)
		}
	}
}

func (e *Engine) armTimer(key string, kind queue.Kind, now time.Time) {
	var d time.Duration
	switch kind {
	case queue.KindInactivity:
		d = e.cfg.InactivityTimeout
	case queue.KindAck:
		d = e.cfg.AckTimeout
	default:
		d = e.cfg.NakTimeout
	}
	if d <= 0 {
		return
	}
	e.timers.Arm(key, kind, now.Add(d))
}

// armTimers arms every configured timer for id against the current time,
// called whenever the engine touches a transaction (creation or inbound
// PDU dispatch both count as activity, resetting the inactivity timer;
// the ack/nak timers ride along on the same reset since a transaction
// that just received a PDU is, by definition, not the one that needs
// retrying). Each OnXTimeout handler is a no-op for the transaction role
// it does not apply to, so arming all three unconditionally is harmless.
func (e *Engine) armTimers(id transaction.ID) {
	now := time.Now()
	key := id.String()
	e.armTimer(key, queue.KindInactivity, now)
	e.armTimer(key, queue.KindAck, now)
	e.armTimer(key, queue.KindNak, now)
}

// Put starts a new outbound transfer: allocates a fresh sequence number,
// registers a send transaction, starts it, and returns its id.
func (e *Engine) Put(req transaction.PutRequest) transaction.ID {
	seq := e.seq.Add(1)
	id := transaction.ID{SourceEntityID: e.cfg.EntityID, SequenceNumber: seq}

	s := transaction.NewSend(id, req, e.cfg, e.fs, e.sendFunc(), e.logger)

	e.mu.Lock()
	e.transactions[id] = s
	e.mu.Unlock()

	e.fireCreated(id)

	if err := s.Start(); err != nil {
		e.logger.Error("entity: transaction %s failed to start: %v", id, err)
	}
	if !s.State().IsTerminal() {
		e.armTimers(id)
	}
	e.finalizeIfTerminal(id, s)

	return id
}

// ProcessPdu decodes an inbound PDU buffer and dispatches it to the
// transaction it names, creating a receive transaction on first contact
// when the PDU travels toward the receiver.
func (e *Engine) ProcessPdu(buf []byte) error {
	p, err := pdu.Decode(buf)
	if err != nil && err != pdu.ErrUnsupportedDirective {
		return fmt.Errorf("entity: decode pdu: %w", err)
	}
	if err == pdu.ErrUnsupportedDirective {
		e.logger.Debug("entity: tolerating unsupported directive from %d", p.Header.SourceEntityID)
		return nil
	}

	id := transaction.ID{SourceEntityID: p.Header.SourceEntityID, SequenceNumber: p.Header.TransactionSeqNumber}

	e.mu.Lock()
	h, ok := e.transactions[id]
	if !ok {
		if p.Header.Direction != pdu.DirectionTowardReceiver {
			e.mu.Unlock()
			e.logger.Debug("entity: dropping PDU for unknown transaction %s (toward sender)", id)
			return nil
		}
		r := transaction.NewReceive(id, p.Header.SourceEntityID, e.cfg, e.fs, e.sendFunc(), e.logger)
		e.transactions[id] = r
		h = r
		e.mu.Unlock()
		e.fireCreated(id)
	} else {
		e.mu.Unlock()
	}

	h.HandlePdu(p)
	if !h.State().IsTerminal() {
		e.armTimers(id)
	}
	e.finalizeIfTerminal(id, h)
	return nil
}

// GetTransactionStatus reports a transaction's coarse
// Undefined|Active|Terminated|Unrecognized status, reusing
// pdu.TransactionStatus rather than inventing a parallel enum.
func (e *Engine) GetTransactionStatus(id transaction.ID) pdu.TransactionStatus {
	e.mu.Lock()
	h, ok := e.transactions[id]
	e.mu.Unlock()

	if !ok {
		return pdu.TransactionStatusUnrecognized
	}
	if h.State().IsTerminal() {
		return pdu.TransactionStatusTerminated
	}
	if h.State() == transaction.StateInitial {
		return pdu.TransactionStatusUndefined
	}
	return pdu.TransactionStatusActive
}

// GetActiveTransactions returns a snapshot of every currently-registered
// transaction id.
func (e *Engine) GetActiveTransactions() []transaction.ID {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]transaction.ID, 0, len(e.transactions))
	for id := range e.transactions {
		ids = append(ids, id)
	}
	return ids
}

// Cancel forwards to the addressed transaction, returning false if it is
// not registered.
func (e *Engine) Cancel(id transaction.ID) bool {
	h, ok := e.lookup(id)
	if !ok {
		return false
	}
	h.Cancel()
	e.finalizeIfTerminal(id, h)
	return true
}

// Suspend forwards to the addressed transaction, returning false if it is
// not registered.
func (e *Engine) Suspend(id transaction.ID) bool {
	h, ok := e.lookup(id)
	if !ok {
		return false
	}
	h.Suspend()
	return true
}

// Resume forwards to the addressed transaction, returning false if it is
// not registered.
func (e *Engine) Resume(id transaction.ID) bool {
	h, ok := e.lookup(id)
	if !ok {
		return false
	}
	h.Resume()
	return true
}

func (e *Engine) lookup(id transaction.ID) (txHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.transactions[id]
	return h, ok
}

// finalizeIfTerminal removes a transaction from the registry once it has
// reached a terminal state and publishes TransactionCompleted. Once
// removed, the transaction is unreachable through the engine's routing
// table.
func (e *Engine) finalizeIfTerminal(id transaction.ID, h txHandle) {
	if !h.State().IsTerminal() {
		return
	}

	e.mu.Lock()
	delete(e.transactions, id)
	e.mu.Unlock()

	e.timers.DisarmAll(id.String())

	res, _ := h.Result()
	if e.notify.OnTransactionCompleted != nil {
		e.notify.OnTransactionCompleted(id, res)
	}
}

func (e *Engine) fireCreated(id transaction.ID) {
	if e.notify.OnTransactionCreated != nil {
		e.notify.OnTransactionCreated(id)
	}
}

// sendFunc adapts the engine's OnPduReady observer into the
// transaction.SendFunc capability every transaction is constructed with.
func (e *Engine) sendFunc() transaction.SendFunc {
	return func(pduBytes []byte, destinationEntityID uint64) {
		if e.notify.OnPduReady != nil {
			e.notify.OnPduReady(pduBytes, destinationEntityID)
		}
	}
}
