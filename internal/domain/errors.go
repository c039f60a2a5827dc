package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so handlers and sync outcomes can map it
// to a stable wire code without string matching.
type ErrorKind string

const (
	// KindInvalidArgument - input fails validation (type, range, missing field)
	KindInvalidArgument ErrorKind = "invalid_argument"
	// KindNotFound - referenced id does not exist
	KindNotFound ErrorKind = "not_found"
	// KindForbidden - caller role may not perform the operation
	KindForbidden ErrorKind = "forbidden"
	// KindInventoryConflict - a stock invariant would be broken; retry after reconcile
	KindInventoryConflict ErrorKind = "inventory_conflict"
	// KindSyncDuplicate - op_id already applied; success with a duplicate marker
	KindSyncDuplicate ErrorKind = "sync_duplicate"
	// KindProviderTimeout - upstream AI/weather call exceeded its deadline
	KindProviderTimeout ErrorKind = "provider_timeout"
	// KindProviderError - upstream returned a malformed or non-retryable response
	KindProviderError ErrorKind = "provider_error"
	// KindPairingFailed - every provider in the chain was exhausted
	KindPairingFailed ErrorKind = "pairing_failed"
	// KindStorage - persistence layer fault
	KindStorage ErrorKind = "storage"
	// KindCapacityExceeded - connection ceiling reached
	KindCapacityExceeded ErrorKind = "capacity_exceeded"
	// KindCancelled - caller deadline or explicit cancel
	KindCancelled ErrorKind = "cancelled"
)

// Error is a classified domain error. Kind is stable for programmatic
// handling; Message is human-readable; Err carries the wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As chains
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by kind, so errors.Is(err, domain.ErrNotFound)
// style sentinels work without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// NewError creates a classified error wrapping an optional cause
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf creates a classified error with a formatted message
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument creates an invalid_argument error
func InvalidArgument(format string, args ...interface{}) *Error {
	return Errorf(KindInvalidArgument, format, args...)
}

// NotFound creates a not_found error
func NotFound(format string, args ...interface{}) *Error {
	return Errorf(KindNotFound, format, args...)
}

// InventoryConflict creates an inventory_conflict error
func InventoryConflict(format string, args ...interface{}) *Error {
	return Errorf(KindInventoryConflict, format, args...)
}

// StorageError wraps a persistence fault
func StorageError(message string, err error) *Error {
	return NewError(KindStorage, message, err)
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// treated as storage faults, the conservative 500 bucket.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindStorage
}

// ErrCancelled is the sentinel for caller-initiated cancellation
var ErrCancelled = &Error{Kind: KindCancelled, Message: "operation cancelled"}

// HTTPStatus maps an error kind to its HTTP status code
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidArgument:
		return 400
	case KindNotFound:
		return 404
	case KindForbidden:
		return 403
	case KindInventoryConflict:
		return 409
	case KindSyncDuplicate:
		return 200
	case KindPairingFailed, KindCapacityExceeded:
		return 503
	case KindCancelled:
		return 499
	default:
		return 500
	}
}
