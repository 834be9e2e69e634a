// Package apperr is the ledger's error taxonomy. Every error returned by the
// command and query services can be classified with KindOf.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyResolved   = errors.New("request already resolved")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrMissingField      = errors.New("required field missing")
	ErrStorage           = errors.New("storage failure")

	ErrEmailTaken      = errors.New("email already registered")
	ErrWeakPassword    = errors.New("password must be at least 8 characters and contain an uppercase letter")
	ErrSelfReferral    = errors.New("an account cannot refer itself")
	ErrTradingDisabled = errors.New("trading is not enabled for this account")
	ErrInvalidInput    = errors.New("invalid value")
)

// ValidationError names the input field that failed.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

func Missing(field string) error {
	return &ValidationError{Field: field, Err: ErrMissingField}
}

func InvalidAmount(field string) error {
	return &ValidationError{Field: field, Err: ErrInvalidAmount}
}

// StorageError wraps a backend failure. It matches ErrStorage with errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func Storage(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// NotFoundf returns an error matching ErrNotFound with a descriptive message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAlreadyResolved
	KindInsufficientFunds
	KindConflict
	KindForbidden
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyResolved:
		return "AlreadyResolved"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindConflict:
		return "Conflict"
	case KindForbidden:
		return "Forbidden"
	case KindStorage:
		return "StorageFailure"
	default:
		return "Unknown"
	}
}

// KindOf classifies err. Errors outside the taxonomy are reported as
// KindStorage, since they can only come from a backend.
func KindOf(err error) Kind {
	var ve *ValidationError
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyResolved):
		return KindAlreadyResolved
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrEmailTaken):
		return KindConflict
	case errors.Is(err, ErrTradingDisabled):
		return KindForbidden
	default:
		return KindStorage
	}
}

// Code is the machine-readable name reported to API callers. Validation
// errors report their underlying cause.
func Code(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		switch {
		case errors.Is(ve.Err, ErrInvalidAmount):
			return "InvalidAmount"
		case errors.Is(ve.Err, ErrMissingField):
			return "MissingField"
		case errors.Is(ve.Err, ErrWeakPassword):
			return "WeakPassword"
		case errors.Is(ve.Err, ErrSelfReferral):
			return "SelfReferral"
		}
		return "ValidationError"
	}
	switch KindOf(err) {
	case KindConflict:
		return "EmailTaken"
	case KindForbidden:
		return "TradingDisabled"
	}
	return KindOf(err).String()
}

// Field returns the offending field of a validation error, or "".
func Field(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
