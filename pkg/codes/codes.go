// Package codes defines the error taxonomy shared by the SDK and the wire
// protocol.
package codes

import (
	"errors"
	"fmt"
)

// Code classifies an error the way the backend reports it.
type Code string

const (
	OK                 Code = "ok"
	Cancelled          Code = "cancelled"
	Unknown            Code = "unknown"
	InvalidArgument    Code = "invalid-argument"
	DeadlineExceeded   Code = "deadline-exceeded"
	NotFound           Code = "not-found"
	AlreadyExists      Code = "already-exists"
	PermissionDenied   Code = "permission-denied"
	ResourceExhausted  Code = "resource-exhausted"
	FailedPrecondition Code = "failed-precondition"
	Aborted            Code = "aborted"
	OutOfRange         Code = "out-of-range"
	Unimplemented      Code = "unimplemented"
	Internal           Code = "internal"
	Unavailable        Code = "unavailable"
	DataLoss           Code = "data-loss"
	Unauthenticated    Code = "unauthenticated"
)

// IsPermanent reports whether an error code should never be retried by a
// stream. Aborted and failed-precondition are permanent for streams even
// though transactions may retry them.
func (c Code) IsPermanent() bool {
	switch c {
	case Cancelled, Unknown, DeadlineExceeded, ResourceExhausted, Internal, Unavailable, Unauthenticated:
		return false
	}
	return true
}

// IsAuthError reports whether the code indicates a credential problem.
func (c Code) IsAuthError() bool {
	return c == Unauthenticated || c == PermissionDenied
}

// Error is a typed error carrying a backend code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the Code from err, defaulting to Unknown. A nil error maps
// to OK.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Unknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
