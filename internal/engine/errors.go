package engine

import (
	"errors"
	"fmt"
)

// Code is a stable error category reported to callers alongside a
// human-readable message.
type Code string

const (
	CodeInvalidRequest  Code = "InvalidRequest"
	CodeNotFound        Code = "NotFound"
	CodeEmptySession    Code = "EmptySession"
	CodeDecodeFailure   Code = "DecodeFailure"
	CodeResourceFailure Code = "ResourceFailure"
)

// Error pairs a stable code with a message. Persistence and resource
// failures are caught at the operation boundary and wrapped into one of
// these; they never crash the process.
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

// Errf builds an Error with a formatted message.
func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code, defaulting to ResourceFailure for
// unclassified failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeResourceFailure
}
