// Package filestore implements the byte-granularity storage contract CFDP
// transactions use to read source files and commit received ones
// (spec.md §6).
package filestore

import "github.com/karatinsa/cfdp-go/pkg/pdu"

// Filestore is the narrow operations surface a CFDP transaction needs. Any
// error returned by an operation maps to pdu.ConditionFilestoreRejection at
// the transaction layer.
type Filestore interface {
	ReadAll(path string) ([]byte, error)
	WriteAll(path string, data []byte) error
	Exists(path string) bool
	Size(path string) (int64, error)
	CreateFile(path string) error
	DeleteFile(path string) error
	Rename(oldPath, newPath string) error
	Append(target, source string) error
	Replace(target, source string) error
	CreateDirectory(path string) error
	RemoveDirectory(path string) error
}

// RejectionError wraps an underlying filestore failure with the
// pdu.ConditionFilestoreRejection condition code, per spec.md §7.
type RejectionError struct {
	Op   string
	Path string
	Err  error
}

func (e *RejectionError) Error() string {
	return "filestore: " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *RejectionError) Unwrap() error { return e.Err }

// ConditionCode satisfies the entity/transaction layer's fault mapping.
func (e *RejectionError) ConditionCode() pdu.ConditionCode {
	return pdu.ConditionFilestoreRejection
}

func reject(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &RejectionError{Op: op, Path: path, Err: err}
}
