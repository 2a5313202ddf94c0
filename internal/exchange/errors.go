package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies exchange failures. Classification happens once at
// the adapter boundary; callers branch on the kind instead of parsing
// error strings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindRateLimit
	KindInsufficientBalance
	KindNetwork
	KindRejected
	KindMaintenance
)

// String returns a human-readable kind name
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "AUTH"
	case KindRateLimit:
		return "RATE_LIMIT"
	case KindInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case KindNetwork:
		return "NETWORK"
	case KindRejected:
		return "REJECTED"
	case KindMaintenance:
		return "MAINTENANCE"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified exchange failure.
type Error struct {
	Kind ErrorKind
	Op   string // The adapter operation that failed, e.g. "createOrder"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("exchange %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a classified exchange error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// wrapOp tags err with the adapter operation that failed, preserving a
// kind classified deeper in the call.
func wrapOp(op string, err error) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		return &Error{Kind: ee.Kind, Op: op, Err: ee.Err}
	}
	return &Error{Kind: KindUnknown, Op: op, Err: err}
}

// KindOf extracts the error kind from err. Errors that did not originate
// at the adapter boundary report KindUnknown.
func KindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}

// Retryable reports whether an error kind may succeed on a plain retry.
// Rate limits are handled separately with a cooldown; auth, balance and
// rejection errors never benefit from retrying.
func Retryable(kind ErrorKind) bool {
	switch kind {
	case KindNetwork, KindUnknown:
		return true
	default:
		return false
	}
}
