package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/karatinsa/cfdp-go/internal/logger"
)

// TCPConfig configures a TCP transport.
type TCPConfig struct {
	// ListenAddr, if non-empty, is bound to accept inbound connections
	// from peers.
	ListenAddr string

	// Peers maps a destination entity id to a "host:port" to dial when
	// Send is called and no inbound connection from that peer exists yet.
	Peers map[uint64]string

	Logger logger.Logger
}

// TCP is a length-prefixed (4-byte big-endian) PDU transport over
// persistent TCP connections, grounded on the teacher's
// pkg/channel/tcp_channel.go framing and reconnect shape.
type TCP struct {
	peers    map[uint64]string
	logger   logger.Logger
	listener net.Listener

	mu    sync.Mutex
	conns map[uint64]net.Conn

	receiver ReceiveFunc

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewTCP constructs and starts a TCP transport. If cfg.ListenAddr is set,
// it immediately begins accepting inbound connections.
func NewTCP(cfg TCPConfig) (*TCP, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	t := &TCP{
		peers:  cfg.Peers,
		logger: log,
		conns:  make(map[uint64]net.Conn),
	}

	if cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("transport: listen %s: %w", cfg.ListenAddr, err)
		}
		t.listener = ln
		t.wg.Add(1)
		go t.acceptLoop()
	}

	return t, nil
}

func (t *TCP) SetReceiver(fn ReceiveFunc) {
	t.mu.Lock()
	t.receiver = fn
	t.mu.Unlock()
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.logger.Error("transport: accept error: %v", err)
			continue
		}
		t.wg.Add(1)
		go t.readLoop(conn)
	}
}

func (t *TCP) readLoop(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if !t.closed.Load() {
				t.stats.readErrors.Add(1)
			}
			return
		}
		n := binary.BigEndian.Uint32(header)
		body := make([]byte, n)
		if _, err := io.ReadFull(conn, body); err != nil {
			t.stats.readErrors.Add(1)
			return
		}
		t.stats.bytesReceived.Add(uint64(4 + n))

		t.mu.Lock()
		recv := t.receiver
		t.mu.Unlock()
		if recv != nil {
			recv(body)
		}
	}
}

// dial returns an existing connection to entityID, or dials a fresh one
// using the configured peer address.
func (t *TCP) dial(entityID uint64) (net.Conn, error) {
	t.mu.Lock()
	if c, ok := t.conns[entityID]; ok {
		t.mu.Unlock()
		return c, nil
	}
	addr, ok := t.peers[entityID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: no address configured for entity %d", entityID)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.conns[entityID] = conn
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(conn)

	return conn, nil
}

func (t *TCP) Send(ctx context.Context, destinationEntityID uint64, pdu []byte) error {
	conn, err := t.dial(destinationEntityID)
	if err != nil {
		t.stats.writeErrors.Add(1)
		return err
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(pdu)))

	if _, err := conn.Write(header); err != nil {
		t.stats.writeErrors.Add(1)
		t.dropConn(destinationEntityID)
		return err
	}
	if _, err := conn.Write(pdu); err != nil {
		t.stats.writeErrors.Add(1)
		t.dropConn(destinationEntityID)
		return err
	}

	t.stats.bytesSent.Add(uint64(4 + len(pdu)))
	return nil
}

func (t *TCP) dropConn(entityID uint64) {
	t.mu.Lock()
	if c, ok := t.conns[entityID]; ok {
		c.Close()
		delete(t.conns, entityID)
	}
	t.mu.Unlock()
}

func (t *TCP) Statistics() Statistics {
	return Statistics{
		BytesSent:     t.stats.bytesSent.Load(),
		BytesReceived: t.stats.bytesReceived.Load(),
		WriteErrors:   t.stats.writeErrors.Load(),
		ReadErrors:    t.stats.readErrors.Load(),
	}
}

func (t *TCP) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Lock()
	for _, c := range t.conns {
		c.Close()
	}
	t.conns = make(map[uint64]net.Conn)
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}
