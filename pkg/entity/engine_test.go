package entity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karatinsa/cfdp-go/pkg/config"
	"github.com/karatinsa/cfdp-go/pkg/filestore"
	"github.com/karatinsa/cfdp-go/pkg/pdu"
	"github.com/karatinsa/cfdp-go/pkg/transaction"
	"github.com/karatinsa/cfdp-go/pkg/transport"
)

// pairedEngines wires two Engines together over a transport.Loopback bus
// so an end-to-end transfer can run entirely in process.
type pairedEngines struct {
	a, b         *Engine
	completedMu  sync.Mutex
	completed    map[transaction.ID]transaction.Result
}

func newPairedEngines(t *testing.T, mode pdu.TransmissionMode) *pairedEngines {
	t.Helper()

	bus := transport.NewLoopbackBus()
	epA := bus.NewEndpoint(1)
	epB := bus.NewEndpoint(2)

	fsA, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("filestore A: %v", err)
	}
	fsB, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("filestore B: %v", err)
	}

	cfgA := config.Defaults()
	cfgA.EntityID = 1
	cfgA.DefaultMode = modeString(mode)

	cfgB := config.Defaults()
	cfgB.EntityID = 2
	cfgB.DefaultMode = modeString(mode)

	p := &pairedEngines{completed: make(map[transaction.ID]transaction.Result)}

	var engineA, engineB *Engine

	notifyA := Notifications{
		OnPduReady: func(buf []byte, dest uint64) {
			epA.Send(context.Background(), dest, buf)
		},
		OnTransactionCompleted: p.recordCompletion,
	}
	notifyB := Notifications{
		OnPduReady: func(buf []byte, dest uint64) {
			epB.Send(context.Background(), dest, buf)
		},
		OnTransactionCompleted: p.recordCompletion,
	}

	engineA = New(cfgA, fsA, notifyA, nil)
	engineB = New(cfgB, fsB, notifyB, nil)
	t.Cleanup(engineA.Close)
	t.Cleanup(engineB.Close)

	epA.SetReceiver(func(buf []byte) { engineA.ProcessPdu(buf) })
	epB.SetReceiver(func(buf []byte) { engineB.ProcessPdu(buf) })

	p.a, p.b = engineA, engineB
	return p
}

func modeString(m pdu.TransmissionMode) string {
	if m == pdu.ModeAcknowledged {
		return "acknowledged"
	}
	return "unacknowledged"
}

func (p *pairedEngines) recordCompletion(id transaction.ID, res transaction.Result) {
	p.completedMu.Lock()
	defer p.completedMu.Unlock()
	p.completed[id] = res
}

func (p *pairedEngines) resultFor(id transaction.ID) (transaction.Result, bool) {
	p.completedMu.Lock()
	defer p.completedMu.Unlock()
	r, ok := p.completed[id]
	return r, ok
}

func TestEnginePutUnacknowledgedEndToEnd(t *testing.T) {
	p := newPairedEngines(t, pdu.ModeUnacknowledged)

	if err := p.a.fs.WriteAll("src.dat", []byte("class one payload")); err != nil {
		t.Fatalf("seed source file: %v", err)
	}

	id := p.a.Put(transaction.PutRequest{
		DestinationEntityID: 2,
		SourceFilename:      "src.dat",
		DestFilename:        "dst.dat",
	})

	resA, ok := p.resultFor(id)
	if !ok || !resA.Success {
		t.Fatalf("sender result = %+v, ok=%v", resA, ok)
	}

	if len(p.a.GetActiveTransactions()) != 0 {
		t.Fatalf("sender registry not cleaned up: %v", p.a.GetActiveTransactions())
	}
	if len(p.b.GetActiveTransactions()) != 0 {
		t.Fatalf("receiver registry not cleaned up: %v", p.b.GetActiveTransactions())
	}

	got, err := p.b.fs.ReadAll("dst.dat")
	if err != nil {
		t.Fatalf("read delivered file: %v", err)
	}
	if string(got) != "class one payload" {
		t.Fatalf("delivered file = %q", got)
	}

	if status := p.a.GetTransactionStatus(id); status != pdu.TransactionStatusUnrecognized {
		t.Fatalf("status after completion = %v, want Unrecognized (removed)", status)
	}
}

func TestEnginePutAcknowledgedEndToEnd(t *testing.T) {
	p := newPairedEngines(t, pdu.ModeAcknowledged)

	if err := p.a.fs.WriteAll("src.dat", []byte("class two payload, a bit longer this time")); err != nil {
		t.Fatalf("seed source file: %v", err)
	}
	p.a.cfg.MaxFileSegmentLength = 6

	id := p.a.Put(transaction.PutRequest{
		DestinationEntityID: 2,
		SourceFilename:      "src.dat",
		DestFilename:        "dst.dat",
		ClosureRequested:    true,
	})

	resA, ok := p.resultFor(id)
	if !ok || !resA.Success {
		t.Fatalf("sender result = %+v, ok=%v", resA, ok)
	}

	got, err := p.b.fs.ReadAll("dst.dat")
	if err != nil {
		t.Fatalf("read delivered file: %v", err)
	}
	if string(got) != "class two payload, a bit longer this time" {
		t.Fatalf("delivered file = %q", got)
	}
}

// TestEngineAckTimeoutRetransmitsEOF exercises the timer scheduler wired
// into Engine: when no receiver ever answers with Finished, the sender
// should re-send EOF on its own, driven purely by the ack-timeout goroutine
// rather than by any inbound PDU.
func TestEngineAckTimeoutRetransmitsEOF(t *testing.T) {
	bus := transport.NewLoopbackBus()
	epA := bus.NewEndpoint(1)

	fsA, err := filestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("filestore: %v", err)
	}

	cfgA := config.Defaults()
	cfgA.EntityID = 1
	cfgA.DefaultMode = "acknowledged"
	cfgA.AckTimeout = 50 * time.Millisecond
	cfgA.MaxAckRetries = 5

	var eofCount int32
	eng := New(cfgA, fsA, Notifications{
		OnPduReady: func(buf []byte, dest uint64) {
			p, err := pdu.Decode(buf)
			if err == nil && p.EOF != nil {
				atomic.AddInt32(&eofCount, 1)
			}
			epA.Send(context.Background(), dest, buf)
		},
	}, nil)
	t.Cleanup(eng.Close)
	// No receiver is ever registered on epA's peer: Finished never arrives.

	if err := fsA.WriteAll("src.dat", []byte("no one is listening")); err != nil {
		t.Fatalf("seed source file: %v", err)
	}
	eng.Put(transaction.PutRequest{DestinationEntityID: 2, SourceFilename: "src.dat", DestFilename: "dst.dat"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&eofCount) >= 2 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&eofCount); got < 2 {
		t.Fatalf("eofCount = %d, want at least 2 (initial send plus at least one ack-timeout retry)", got)
	}
}

func TestEngineCancelUnknownTransaction(t *testing.T) {
	p := newPairedEngines(t, pdu.ModeUnacknowledged)
	unknown := transaction.ID{SourceEntityID: 99, SequenceNumber: 1}

	if p.a.Cancel(unknown) {
		t.Fatalf("Cancel on unknown transaction returned true")
	}
	if p.a.Suspend(unknown) {
		t.Fatalf("Suspend on unknown transaction returned true")
	}
	if p.a.Resume(unknown) {
		t.Fatalf("Resume on unknown transaction returned true")
	}
}
