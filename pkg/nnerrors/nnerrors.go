// Package nnerrors defines the closed set of error kinds surfaced across
// the runtime's public operations.
//
// The source this runtime is modeled on represents these as a C enum,
// with two distinct failure names (OP_FAILED and UNMAPPABLE) sharing one
// integer value. This package does not carry that collision over:
// OpFailed stands only for a failed operation or driver, and there is
// no separate unmappable Kind (pkg/pool reports a region it cannot map
// as OutOfMemory).
package nnerrors

import "fmt"

// Kind is one of the error categories a runtime call can fail with.
type Kind int

const (
	// NoError indicates success. It is never the Kind of a non-nil Error.
	NoError Kind = iota
	// OutOfMemory indicates an allocation for an operand, buffer, or pool failed.
	OutOfMemory
	// BadData indicates a structural validation failure: shape mismatch,
	// unknown op or type code, out-of-range index, buffer length
	// mismatch, unresolved wildcard dimension, or pool-size overflow.
	BadData
	// UnexpectedNull indicates a required reference was absent at a
	// public boundary.
	UnexpectedNull
	// OpFailed indicates a driver reported failure or a kernel's
	// preconditions were violated at run time.
	OpFailed
	// Incomplete is reserved for partial driver completion; the core
	// never produces it itself.
	Incomplete
	// BadState indicates an operation was attempted in the wrong
	// lifecycle phase (mutating a finalized model, double-starting a
	// request, re-entering a running executor).
	BadState
)

func (k Kind) String() string {
	switch k {
	case NoError:
		return "NoError"
	case OutOfMemory:
		return "OutOfMemory"
	case BadData:
		return "BadData"
	case UnexpectedNull:
		return "UnexpectedNull"
	case OpFailed:
		return "OpFailed"
	case Incomplete:
		return "Incomplete"
	case BadState:
		return "BadState"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the concrete error type returned by runtime operations. It
// carries a Kind so callers can branch on failure category with
// errors.Is against the sentinels below, and a human-readable Msg for
// logs.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is reports whether target is a sentinel for the same Kind, so that
// errors.Is(err, nnerrors.ErrBadData) works regardless of Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == ""
}

// Sentinels, one per Kind, for use with errors.Is.
var (
	ErrOutOfMemory    = &Error{Kind: OutOfMemory}
	ErrBadData        = &Error{Kind: BadData}
	ErrUnexpectedNull = &Error{Kind: UnexpectedNull}
	ErrOpFailed       = &Error{Kind: OpFailed}
	ErrIncomplete     = &Error{Kind: Incomplete}
	ErrBadState       = &Error{Kind: BadState}
)

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// BadDataf is shorthand for New(BadData, ...), the most common kind
// raised by validation code throughout this module.
func BadDataf(format string, args ...any) *Error {
	return New(BadData, format, args...)
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// otherwise reports OpFailed for any other non-nil error and NoError
// for nil — the same default a driver-reported opaque failure would get.
func KindOf(err error) Kind {
	if err == nil {
		return NoError
	}
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return OpFailed
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
