package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformedValue indicates a policy condition operand that cannot be parsed
	ErrMalformedValue = errors.New("malformed condition value")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("timeout")
)

// TransientError wraps an error to mark it as transient (retryable)
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error: %v", e.Cause)
	}
	return "transient error"
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransient creates a new transient error
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// NewTransientf creates a new transient error with formatting
func NewTransientf(format string, args ...interface{}) error {
	return &TransientError{Cause: fmt.Errorf(format, args...)}
}

// PermanentError wraps an error to mark it as permanent (not retryable)
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permanent error: %v", e.Cause)
	}
	return "permanent error"
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// NewPermanent creates a new permanent error
func NewPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// NewPermanentf creates a new permanent error with formatting
func NewPermanentf(format string, args ...interface{}) error {
	return &PermanentError{Cause: fmt.Errorf(format, args...)}
}

// MalformedValueError describes a condition operand that could not be
// interpreted for its subject. Evaluation treats it as a per-condition skip.
type MalformedValueError struct {
	Subject string
	Value   string
	Cause   error
}

func (e *MalformedValueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed %s condition value %q: %v", e.Subject, e.Value, e.Cause)
	}
	return fmt.Sprintf("malformed %s condition value %q", e.Subject, e.Value)
}

func (e *MalformedValueError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrMalformedValue) match any MalformedValueError
func (e *MalformedValueError) Is(target error) bool {
	return target == ErrMalformedValue
}

// NewMalformedValue creates a new malformed value error
func NewMalformedValue(subject, value string, cause error) error {
	return &MalformedValueError{Subject: subject, Value: value, Cause: cause}
}

// IsMalformedValue checks if an error reports an unparseable condition value
func IsMalformedValue(err error) bool {
	if err == nil {
		return false
	}
	var malformed *MalformedValueError
	return errors.As(err, &malformed)
}

// IsTransient checks if an error is transient using errors.As
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check if explicitly marked as transient
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	// Check if explicitly marked as permanent
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	// Check for known sentinel errors
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrMalformedValue) {
		return false
	}

	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Default to non-transient for safety (don't retry unknown errors)
	return false
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}
