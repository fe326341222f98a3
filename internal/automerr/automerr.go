// Package automerr defines the error taxonomy shared by every core component,
// so that external adapters (HTTP, MCP) can map a single kind to a status
// code without inspecting error strings.
package automerr

import (
	"errors"
	"fmt"
)

// Kind is one of the stable error categories from spec §7.
type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindCredential  Kind = "credential_error"
	KindExecution   Kind = "execution_error"
	KindTimeout     Kind = "timeout"
	KindModule      Kind = "module_not_allowed"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindIntegrity   Kind = "integrity"
	KindCrypto      Kind = "crypto_error"
	KindIO          Kind = "io_error"
)

// Error wraps an underlying cause with a stable Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op with the given kind, wrapping err (may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
