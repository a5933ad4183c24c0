// Package domainerrors provides coded errors for the ledger's domain logic.
// Services return these instead of opaque strings so handlers, metrics, and
// off-chain consumers can switch on a stable code, then on the message for
// fine-grained detail.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the failure class. Codes are wire-stable: never rename one
// after consumers start switching on it.
type Code string

const (
	CodeNotInitialized     Code = "not_initialized"
	CodeUnauthorized       Code = "unauthorized"
	CodeValidation         Code = "validation"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeBondState          Code = "bond_state"
	CodeArithmetic         Code = "arithmetic"
	CodeGovernance         Code = "governance"
	CodeReplay             Code = "replay"
	CodeReentrancy         Code = "reentrancy"
	CodeInternal           Code = "internal"
	CodeInvariantViolation Code = "invariant_violation"
)

// Category groups codes by domain for monitoring and alerting. Consumers
// should switch on the category first, then on the specific code.
type Category string

const (
	CategoryInitialization Category = "initialization"
	CategoryAuthorization  Category = "authorization"
	CategoryBond           Category = "bond"
	CategoryArithmetic     Category = "arithmetic"
	CategoryGovernance     Category = "governance"
	CategoryReplay         Category = "replay"
	CategoryInternal       Category = "internal"
)

var codeCategories = map[Code]Category{
	CodeNotInitialized:     CategoryInitialization,
	CodeUnauthorized:       CategoryAuthorization,
	CodeValidation:         CategoryBond,
	CodeBadRequest:         CategoryBond,
	CodeNotFound:           CategoryBond,
	CodeConflict:           CategoryBond,
	CodeBondState:          CategoryBond,
	CodeArithmetic:         CategoryArithmetic,
	CodeGovernance:         CategoryGovernance,
	CodeReplay:             CategoryReplay,
	CodeReentrancy:         CategoryInternal,
	CodeInternal:           CategoryInternal,
	CodeInvariantViolation: CategoryInternal,
}

// CategoryOf returns the category for a code. Unknown codes map to internal.
func CategoryOf(c Code) Category {
	if cat, ok := codeCategories[c]; ok {
		return cat
	}
	return CategoryInternal
}

// Error is a coded domain error. It wraps an optional cause for errors.Is
// and errors.As traversal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Err
		if err == nil {
			return false
		}
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal if none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
