// Package apperr is the error taxonomy shared by the bidding, settlement,
// listing and wallet packages. Every core operation returns either a value
// or a single *Error whose Kind tells the caller how to recover.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the recovery class of an error.
type Kind string

const (
	// Validation: malformed or out-of-range input. Resubmit corrected input.
	Validation Kind = "VALIDATION"
	// StateConflict: the auction is not in a state that allows the operation.
	// Re-read current state.
	StateConflict Kind = "STATE_CONFLICT"
	// Resource: not enough balance. Top up or lower the amount.
	Resource Kind = "RESOURCE"
	// Integrity: lock, transaction or store failure. Retry the whole operation.
	Integrity Kind = "INTEGRITY"
	NotFound  Kind = "NOT_FOUND"
	Forbidden Kind = "FORBIDDEN"
)

// Code identifies the specific rule that failed.
type Code string

const (
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeNotActive            Code = "NOT_ACTIVE"
	CodeEnded                Code = "ENDED"
	CodeBelowMinIncrement    Code = "BELOW_MIN_INCREMENT"
	CodeAboveMaxIncrement    Code = "ABOVE_MAX_INCREMENT"
	CodeDepositTooLow        Code = "DEPOSIT_TOO_LOW"
	CodeInsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	CodeIdempotencyViolation Code = "IDEMPOTENCY_VIOLATION"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeNotClosed            Code = "NOT_CLOSED"
	CodeNotWinner            Code = "NOT_WINNER"
	CodeAlreadyPaid          Code = "ALREADY_PAID"
	CodeAlreadyProcessed     Code = "ALREADY_PROCESSED"
	CodeSelfBid              Code = "SELF_BID"
	CodeWrongRole            Code = "WRONG_ROLE"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInternal             Code = "INTERNAL"
)

// Error is a typed core error.
type Error struct {
	Kind    Kind
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

// Is matches another *Error by code, so errors.Is(err, apperr.New(k, code, ""))
// and comparisons against the sentinels below work through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New returns an *Error with a formatted message.
func New(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an INTEGRITY error around a store or transaction failure.
func Wrap(err error, format string, args ...any) *Error {
	return &Error{Kind: Integrity, Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind of err, INTEGRITY for anything untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Integrity
}

// CodeOf reports the Code of err, INTERNAL for anything untyped.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Expected reports whether err is a normal business outcome that must not be
// logged as a fault.
func Expected(err error) bool {
	switch KindOf(err) {
	case Validation, StateConflict, Resource, NotFound, Forbidden:
		return true
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotActive            = &Error{Kind: StateConflict, Code: CodeNotActive}
	ErrEnded                = &Error{Kind: StateConflict, Code: CodeEnded}
	ErrBelowMinIncrement    = &Error{Kind: StateConflict, Code: CodeBelowMinIncrement}
	ErrAboveMaxIncrement    = &Error{Kind: Validation, Code: CodeAboveMaxIncrement}
	ErrDepositTooLow        = &Error{Kind: Validation, Code: CodeDepositTooLow}
	ErrInsufficientBalance  = &Error{Kind: Resource, Code: CodeInsufficientBalance}
	ErrIdempotencyViolation = &Error{Kind: StateConflict, Code: CodeIdempotencyViolation}
	ErrNotFound             = &Error{Kind: NotFound, Code: CodeNotFound}
)
