package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/karatinsa/cfdp-go/internal/logger"
)

// UDPConfig configures a UDP transport. Per spec.md §6, a UDP transport
// must carry an entire PDU in one datagram — no reassembly is performed
// here.
type UDPConfig struct {
	ListenAddr string
	Peers      map[uint64]string
	Logger     logger.Logger
}

// UDP is a one-PDU-per-datagram transport, grounded on the teacher's
// pkg/channel/udp_channel.go.
type UDP struct {
	conn   *net.UDPConn
	peers  map[uint64]string
	logger logger.Logger

	mu       sync.Mutex
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

// NewUDP constructs and starts a UDP transport bound to cfg.ListenAddr.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", cfg.ListenAddr, err)
	}

	u := &UDP{conn: conn, peers: cfg.Peers, logger: log}
	u.wg.Add(1)
	go u.readLoop()
	return u, nil
}

func (u *UDP) SetReceiver(fn ReceiveFunc) {
	u.mu.Lock()
	u.receiver = fn
	u.mu.Unlock()
}

// maxDatagram bounds a single read; CFDP file-data PDUs are capped by
// config.MaxFileSegmentLength well below this.
const maxDatagram = 65507

func (u *UDP) readLoop() {
	defer u.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.closed.Load() {
				return
			}
			u.stats.readErrors.Add(1)
			continue
		}
		u.stats.bytesReceived.Add(uint64(n))

		body := make([]byte, n)
		copy(body, buf[:n])

		u.mu.Lock()
		recv := u.receiver
		u.mu.Unlock()
		if recv != nil {
			recv(body)
		}
	}
}

func (u *UDP) Send(ctx context.Context, destinationEntityID uint64, pdu []byte) error {
	addrStr, ok := u.peers[destinationEntityID]
	if !ok {
		return fmt.Errorf("transport: no address configured for entity %d", destinationEntityID)
	}
	addr, err := net.ResolveUDPAddr("udp", addrStr)
	if err != nil {
		u.stats.writeErrors.Add(1)
		return err
	}
	if _, err := u.conn.WriteToUDP(pdu, addr); err != nil {
		u.stats.writeErrors.Add(1)
		return err
	}
	u.stats.bytesSent.Add(uint64(len(pdu)))
	return nil
}

func (u *UDP) Statistics() Statistics {
	return Statistics{
		BytesSent:     u.stats.bytesSent.Load(),
		BytesReceived: u.stats.bytesReceived.Load(),
		WriteErrors:   u.stats.writeErrors.Load(),
		ReadErrors:    u.stats.readErrors.Load(),
	}
}

func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	u.conn.Close()
	u.wg.Wait()
	return nil
}
