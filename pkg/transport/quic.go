package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/karatinsa/cfdp-go/internal/logger"
)

// QUICConfig configures a QUIC transport. Grounded on the teacher's
// pkg/channel/quic_channel.go: one stream per peer, self-signed TLS
// generated when none is supplied.
type QUICConfig struct {
	ListenAddr string
	IsServer   bool
	Peers      map[uint64]string
	TLSConfig  *tls.Config
	Logger     logger.Logger
}

// QUIC is a stream-per-peer PDU transport over QUIC. Each PDU is framed
// with a 4-byte big-endian length prefix on the stream, the same way the
// TCP transport frames its connection.
type QUIC struct {
	isServer  bool
	peers     map[uint64]string
	tlsConfig *tls.Config
	logger    logger.Logger

	listener *quic.Listener

	mu        sync.Mutex
	conns     map[uint64]*quic.Conn
	streams   map[uint64]*quic.Stream
	receiver  ReceiveFunc

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewQUIC constructs a QUIC transport. In server mode it listens on
// cfg.ListenAddr and accepts inbound connections/streams; in client mode it
// dials peers lazily from Send.
func NewQUIC(cfg QUICConfig) (*QUIC, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateSelfSignedTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("transport: generate tls config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &QUIC{
		isServer:  cfg.IsServer,
		peers:     cfg.Peers,
		tlsConfig: tlsConfig,
		logger:    log,
		conns:     make(map[uint64]*quic.Conn),
		streams:   make(map[uint64]*quic.Stream),
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.IsServer {
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("transport: resolve %s: %w", cfg.ListenAddr, err)
		}
		udpConn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("transport: listen %s: %w", cfg.ListenAddr, err)
		}
		ln, err := quic.Listen(udpConn, tlsConfig, nil)
		if err != nil {
			udpConn.Close()
			cancel()
			return nil, fmt.Errorf("transport: quic listen: %w", err)
		}
		q.listener = ln
		q.wg.Add(1)
		go q.acceptLoop()
	}

	return q, nil
}

func generateSelfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         []string{"cfdp-quic"},
		InsecureSkipVerify: true,
	}, nil
}

func (q *QUIC) SetReceiver(fn ReceiveFunc) {
	q.mu.Lock()
	q.receiver = fn
	q.mu.Unlock()
}

func (q *QUIC) acceptLoop() {
	defer q.wg.Done()
	for {
		conn, err := q.listener.Accept(q.ctx)
		if err != nil {
			if q.closed.Load() {
				return
			}
			q.logger.Error("transport: quic accept error: %v", err)
			continue
		}
		q.wg.Add(1)
		go q.acceptStream(conn)
	}
}

func (q *QUIC) acceptStream(conn *quic.Conn) {
	defer q.wg.Done()
	stream, err := conn.AcceptStream(q.ctx)
	if err != nil {
		return
	}
	q.readLoop(stream)
}

func (q *QUIC) readLoop(stream *quic.Stream) {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(stream, header); err != nil {
			if !q.closed.Load() {
				q.stats.readErrors.Add(1)
			}
			return
		}
		n := binary.BigEndian.Uint32(header)
		body := make([]byte, n)
		if _, err := io.ReadFull(stream, body); err != nil {
			q.stats.readErrors.Add(1)
			return
		}
		q.stats.bytesReceived.Add(uint64(4 + n))

		q.mu.Lock()
		recv := q.receiver
		q.mu.Unlock()
		if recv != nil {
			recv(body)
		}
	}
}

func (q *QUIC) dial(entityID uint64) (*quic.Stream, error) {
	q.mu.Lock()
	if s, ok := q.streams[entityID]; ok {
		q.mu.Unlock()
		return s, nil
	}
	addrStr, ok := q.peers[entityID]
	q.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: no address configured for entity %d", entityID)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", addrStr)
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	conn, err := quic.Dial(q.ctx, udpConn, remoteAddr, q.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, err
	}
	stream, err := conn.OpenStreamSync(q.ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, err
	}

	q.mu.Lock()
	q.conns[entityID] = conn
	q.streams[entityID] = stream
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.readLoop(stream)
	}()

	return stream, nil
}

func (q *QUIC) Send(ctx context.Context, destinationEntityID uint64, pdu []byte) error {
	stream, err := q.dial(destinationEntityID)
	if err != nil {
		q.stats.writeErrors.Add(1)
		return err
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(pdu)))

	if _, err := stream.Write(header); err != nil {
		q.stats.writeErrors.Add(1)
		return err
	}
	if _, err := stream.Write(pdu); err != nil {
		q.stats.writeErrors.Add(1)
		return err
	}
	q.stats.bytesSent.Add(uint64(4 + len(pdu)))
	return nil
}

func (q *QUIC) Statistics() Statistics {
	return Statistics{
		BytesSent:     q.stats.bytesSent.Load(),
		BytesReceived: q.stats.bytesReceived.Load(),
		WriteErrors:   q.stats.writeErrors.Load(),
		ReadErrors:    q.stats.readErrors.Load(),
	}
}

func (q *QUIC) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	q.cancel()
	if q.listener != nil {
		q.listener.Close()
	}
	q.mu.Lock()
	for _, s := range q.streams {
		s.Close()
	}
	for _, c := range q.conns {
		c.CloseWithError(0, "transport closed")
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
