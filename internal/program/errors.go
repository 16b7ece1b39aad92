// ABOUTME: Machine-readable error taxonomy for gateway operations
// ABOUTME: Every failure carries a Kind that transports map to status codes

package program

import (
	"errors"
	"fmt"
)

// Kind identifies a class of operation failure.
type Kind string

const (
	KindAlreadyInitialized  Kind = "ALREADY_INITIALIZED"
	KindRecordNotFound      Kind = "RECORD_NOT_FOUND"
	KindAddressMismatch     Kind = "ADDRESS_MISMATCH"
	KindInsufficientPayment Kind = "INSUFFICIENT_PAYMENT"
	KindTransferFailed      Kind = "TRANSFER_FAILED"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindMissingSignature    Kind = "MISSING_SIGNATURE"
)

// Error is returned by every Program operation that fails for a domain
// reason. Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so callers can write
// errors.Is(err, program.ErrUnauthorized).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrAlreadyInitialized  = &Error{Kind: KindAlreadyInitialized, Message: "gateway already initialized"}
	ErrRecordNotFound      = &Error{Kind: KindRecordNotFound, Message: "gateway not initialized"}
	ErrAddressMismatch     = &Error{Kind: KindAddressMismatch, Message: "gateway address does not match its derivation"}
	ErrInsufficientPayment = &Error{Kind: KindInsufficientPayment, Message: "payment amount is below the fee"}
	ErrTransferFailed      = &Error{Kind: KindTransferFailed, Message: "transfer failed"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Message: "caller is not the gateway authority"}
	ErrMissingSignature    = &Error{Kind: KindMissingSignature, Message: "required signature missing"}
)

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or "" if err is not a program error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
