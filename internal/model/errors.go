package model

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeInput      Code = "INPUT_INVALID"        // Run rejected before packing
	CodeGeometry   Code = "GEOMETRY_UNPLACEABLE" // Piece cannot fit any slab
	CodeStaleWrite Code = "STALE_WRITE"          // Sequence guard rejected a commit
	CodeTimeout    Code = "TIMEOUT"              // Run exceeded its time budget
	CodeNotFound   Code = "NOT_FOUND"
	CodeStore      Code = "STORE"
)

// ReasonExceedsSlab is the unplaced reason for pieces that fit no slab.
const ReasonExceedsSlab = "exceeds slab bounds"

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a coded error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a coded error around an existing cause.
func WrapError(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewInputError reports invalid run input.
func NewInputError(format string, args ...any) *Error {
	return NewError(CodeInput, format, args...)
}

// NewTimeoutError reports a run that exceeded its budget.
func NewTimeoutError(format string, args ...any) *Error {
	return NewError(CodeTimeout, format, args...)
}

var (
	// ErrStaleWrite is returned by stores when a result's sequence is not
	// newer than the committed one. It never reaches API callers.
	ErrStaleWrite = NewError(CodeStaleWrite, "result sequence is not newer than committed result")

	// ErrNotFound is returned when no result exists for a quote.
	ErrNotFound = NewError(CodeNotFound, "no optimisation result for quote")
)

// IsCode reports whether any error in the chain carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first coded error in the chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
