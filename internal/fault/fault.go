// Package fault defines the typed error taxonomy shared by the capture
// session, the packet encoder and the pipeline loop.
//
// Every fallible step returns a *Error carrying a Code. The pipeline uses
// IsFatal to decide whether a failure ends the loop.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies the kind of a failure.
type Code string

// Error codes.
const (
	CodeCaptureFailed      Code = "CAPTURE_FAILED"      // compositor failed one capture; retried
	CodeCaptureUnavailable Code = "CAPTURE_UNAVAILABLE" // capture failures exceeded the retry bound
	CodeOutOfBounds        Code = "OUT_OF_BOUNDS"       // region outside captured geometry
	CodeSizeMismatch       Code = "SIZE_MISMATCH"       // color buffer length != light count
	CodeTransportError     Code = "TRANSPORT_ERROR"     // serial write or open failed
	CodeProtocolError      Code = "PROTOCOL_ERROR"      // compositor connection broken
	CodeConfigInvalid      Code = "CONFIG_INVALID"      // rejected at startup
)

// Error is a classified failure.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates an error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with a cause. Returns nil if cause is nil.
func Wrap(code Code, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code, so sentinel-style checks
// like errors.Is(err, fault.New(fault.CodeOutOfBounds, "")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an *Error with code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsFatal reports whether err must terminate the pipeline loop.
// Only a single CaptureFailed is recoverable; unclassified errors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) != CodeCaptureFailed
}
