// Command cfdpd is a CFDP entity daemon: it loads an EntityConfig, binds a
// filestore and a PDU transport, and runs an entity.Engine until
// signalled, exposing a small control port for cfdpctl.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/karatinsa/cfdp-go/pkg/config"
	"github.com/karatinsa/cfdp-go/pkg/control"
	"github.com/karatinsa/cfdp-go/pkg/entity"
	"github.com/karatinsa/cfdp-go/pkg/filestore"
	"github.com/karatinsa/cfdp-go/internal/logger"
	"github.com/karatinsa/cfdp-go/pkg/pdu"
	"github.com/karatinsa/cfdp-go/pkg/transaction"
	"github.com/karatinsa/cfdp-go/pkg/transport"
)

func setupLogging(logDir string) (logger.Logger, error) {
	if logDir == "" {
		return logger.NewDefaultLogger(logger.LevelInfo), nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   logDir + "/cfdpd.log",
		MaxSize:    25,
		MaxAge:     7,
		MaxBackups: 5,
	}
	return logger.NewDefaultLoggerTo(logger.LevelInfo, io.MultiWriter(os.Stdout, rotator)), nil
}

func buildTransport(kind, listenAddr string, log logger.Logger) (transport.Transport, error) {
	switch kind {
	case "udp":
		return transport.NewUDP(transport.UDPConfig{ListenAddr: listenAddr, Logger: log})
	case "quic":
		return transport.NewQUIC(transport.QUICConfig{ListenAddr: listenAddr, IsServer: true, Logger: log})
	default:
		return transport.NewTCP(transport.TCPConfig{ListenAddr: listenAddr, Logger: log})
	}
}

func main() {
	configPath := flag.String("config", "cfdpd.yaml", "path to entity configuration file")
	transportKind := flag.String("transport", "tcp", "PDU transport: tcp | udp | quic")
	listenAddr := flag.String("listen", ":4556", "address the PDU transport listens on")
	controlAddr := flag.String("control", "127.0.0.1:4557", "address the control port listens on")
	logDir := flag.String("log-dir", "", "directory for rotating log files (empty disables file logging)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfdpd: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := setupLogging(*logDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfdpd: setup logging: %v\n", err)
		os.Exit(1)
	}

	fs, err := filestore.NewLocal(cfg.FilestoreRoot)
	if err != nil {
		log.Error("cfdpd: filestore init: %v", err)
		os.Exit(1)
	}

	tr, err := buildTransport(*transportKind, *listenAddr, log)
	if err != nil {
		log.Error("cfdpd: transport init: %v", err)
		os.Exit(1)
	}
	defer tr.Close()

	var eng *entity.Engine
	eng = entity.New(cfg, fs, entity.Notifications{
		OnTransactionCreated: func(id transaction.ID) {
			log.Info("transaction %s created", id)
		},
		OnTransactionCompleted: func(id transaction.ID, res transaction.Result) {
			log.Info("transaction %s completed success=%v condition=%v bytes=%d", id, res.Success, res.ConditionCode, res.BytesTransferred)
		},
		OnPduReady: func(buf []byte, dest uint64) {
			if err := tr.Send(context.Background(), dest, buf); err != nil {
				log.Warn("cfdpd: send to %d failed: %v", dest, err)
			}
		},
	}, log)
	defer eng.Close()

	tr.SetReceiver(func(buf []byte) {
		if err := eng.ProcessPdu(buf); err != nil {
			log.Warn("cfdpd: process inbound pdu: %v", err)
		}
	})

	ctl, err := net.Listen("tcp", *controlAddr)
	if err != nil {
		log.Error("cfdpd: control listen: %v", err)
		os.Exit(1)
	}
	defer ctl.Close()
	go serveControl(ctl, eng, log)

	log.Info("cfdpd listening: pdu=%s://%s control=%s entity=%d", *transportKind, *listenAddr, *controlAddr, cfg.EntityID)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Info("cfdpd stopped")
}

func serveControl(ln net.Listener, eng *entity.Engine, log logger.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handleControlConn(conn, eng, log)
	}
}

func handleControlConn(conn net.Conn, eng *entity.Engine, log logger.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req control.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(control.Response{OK: false, Error: err.Error()})
			continue
		}
		enc.Encode(dispatch(req, eng))
	}
	if err := scanner.Err(); err != nil {
		log.Warn("cfdpd: control connection read error: %v", err)
	}
}

func dispatch(req control.Request, eng *entity.Engine) control.Response {
	switch req.Op {
	case "put":
		putReq := transaction.PutRequest{
			DestinationEntityID: req.DestinationEntityID,
			SourceFilename:      req.SourceFilename,
			DestFilename:        req.DestFilename,
			ClosureRequested:    req.ClosureRequested,
		}
		if req.TransmissionMode != "" {
			mode := config.ModeFromString(req.TransmissionMode)
			putReq.TransmissionMode = &mode
		}
		id := eng.Put(putReq)
		return control.Response{OK: true, SourceEntityID: id.SourceEntityID, SequenceNumber: id.SequenceNumber}

	case "status":
		id := transaction.ID{SourceEntityID: req.SourceEntityID, SequenceNumber: req.SequenceNumber}
		status := eng.GetTransactionStatus(id)
		return control.Response{OK: true, Status: statusName(status)}

	case "cancel":
		id := transaction.ID{SourceEntityID: req.SourceEntityID, SequenceNumber: req.SequenceNumber}
		if !eng.Cancel(id) {
			return control.Response{OK: false, Error: "unknown transaction"}
		}
		return control.Response{OK: true}

	case "suspend":
		id := transaction.ID{SourceEntityID: req.SourceEntityID, SequenceNumber: req.SequenceNumber}
		if !eng.Suspend(id) {
			return control.Response{OK: false, Error: "unknown transaction"}
		}
		return control.Response{OK: true}

	case "resume":
		id := transaction.ID{SourceEntityID: req.SourceEntityID, SequenceNumber: req.SequenceNumber}
		if !eng.Resume(id) {
			return control.Response{OK: false, Error: "unknown transaction"}
		}
		return control.Response{OK: true}

	case "list":
		ids := eng.GetActiveTransactions()
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, id.String())
		}
		return control.Response{OK: true, IDs: out}

	default:
		return control.Response{OK: false, Error: "unknown op " + req.Op}
	}
}

func statusName(s pdu.TransactionStatus) string {
	switch s {
	case pdu.TransactionStatusUndefined:
		return "Undefined"
	case pdu.TransactionStatusActive:
		return "Active"
	case pdu.TransactionStatusTerminated:
		return "Terminated"
	default:
		return "Unrecognized"
	}
}
