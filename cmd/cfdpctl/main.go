// Command cfdpctl is a client for a running cfdpd daemon: put, status,
// cancel, suspend, and resume subcommands sent over the control port's
// newline-delimited JSON protocol.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/karatinsa/cfdp-go/pkg/control"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "put":
		putCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "cancel":
		transactionCmd("cancel", os.Args[2:])
	case "suspend":
		transactionCmd("suspend", os.Args[2:])
	case "resume":
		transactionCmd("resume", os.Args[2:])
	case "list":
		listCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `cfdpctl <command> [options]

Commands:
  put      --control <addr> --dest <entityId> --src <file> --dst <file> [--mode acknowledged|unacknowledged] [--closure]
  status   --control <addr> --id <source:sequence>
  cancel   --control <addr> --id <source:sequence>
  suspend  --control <addr> --id <source:sequence>
  resume   --control <addr> --id <source:sequence>
  list     --control <addr>
`)
}

func dial(addr string) (net.Conn, error) {
	return net.Dial("tcp", addr)
}

func roundTrip(addr string, req control.Request) (control.Response, error) {
	conn, err := dial(addr)
	if err != nil {
		return control.Response{}, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return control.Response{}, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return control.Response{}, fmt.Errorf("read response: %w", err)
		}
		return control.Response{}, fmt.Errorf("read response: connection closed")
	}

	var resp control.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return control.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func parseID(s string) (uint64, uint64, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid transaction id %q, want source:sequence", s)
	}
	src, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid source entity id: %w", err)
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sequence number: %w", err)
	}
	return src, seq, nil
}

func putCmd(args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	controlAddr := fs.String("control", "127.0.0.1:4557", "cfdpd control address")
	dest := fs.Uint64("dest", 0, "destination entity id")
	src := fs.String("src", "", "source filename")
	dst := fs.String("dst", "", "destination filename")
	mode := fs.String("mode", "", "acknowledged | unacknowledged (default: entity default)")
	closure := fs.Bool("closure", false, "request closure in unacknowledged mode")
	fs.Parse(args)

	if *src == "" || *dst == "" {
		fmt.Fprintln(os.Stderr, "required: --src and --dst")
		os.Exit(1)
	}

	resp, err := roundTrip(*controlAddr, control.Request{
		Op:                  "put",
		DestinationEntityID: *dest,
		SourceFilename:      *src,
		DestFilename:        *dst,
		TransmissionMode:    *mode,
		ClosureRequested:    *closure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfdpctl: %v\n", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintf(os.Stderr, "cfdpctl: %s\n", resp.Error)
		os.Exit(1)
	}
	fmt.Printf("%d:%d\n", resp.SourceEntityID, resp.SequenceNumber)
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	controlAddr := fs.String("control", "127.0.0.1:4557", "cfdpd control address")
	id := fs.String("id", "", "transaction id, source:sequence")
	fs.Parse(args)

	src, seq, err := parseID(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfdpctl: %v\n", err)
		os.Exit(1)
	}

	resp, err := roundTrip(*controlAddr, control.Request{Op: "status", SourceEntityID: src, SequenceNumber: seq})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfdpctl: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(resp.Status)
}

func transactionCmd(op string, args []string) {
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	controlAddr := fs.String("control", "127.0.0.1:4557", "cfdpd control address")
	id := fs.String("id", "", "transaction id, source:sequence")
	fs.Parse(args)

	src, seq, err := parseID(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfdpctl: %v\n", err)
		os.Exit(1)
	}

	resp, err := roundTrip(*controlAddr, control.Request{Op: op, SourceEntityID: src, SequenceNumber: seq})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfdpctl: %v\n", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintf(os.Stderr, "cfdpctl: %s\n", resp.Error)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	controlAddr := fs.String("control", "127.0.0.1:4557", "cfdpd control address")
	fs.Parse(args)

	resp, err := roundTrip(*controlAddr, control.Request{Op: "list"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfdpctl: %v\n", err)
		os.Exit(1)
	}
	for _, id := range resp.IDs {
		fmt.Println(id)
	}
}
