// Package errors defines the coded errors shared by pipescope packages.
//
// Codes fall into three families that are handled differently:
//
//   - Protocol violations (PROTOCOL_VIOLATION, MALFORMED_MESSAGE,
//     UNKNOWN_COMPONENT, INVALID_ENTITY, DERIVED_COMPONENT, PARENT_CYCLE)
//     are rejected and counted. The mirror keeps its last good state.
//   - Transport failures (TRANSPORT_FAILURE, TIMEOUT) end a connection and
//     lead to a resync on the next one.
//   - LAYOUT_INVARIANT marks an internal layout bug; the affected component
//     falls back to a degenerate placement.
//
// Everything else (INVALID_*, *NOT_FOUND, UNSUPPORTED, INTERNAL_ERROR) is
// returned to the caller of the CLI or API.
//
//	err := errors.New(errors.ErrCodeUnknownComponent, "unknown tag %q", tag)
//	if errors.IsProtocolViolation(err) {
//	    violations++
//	}
package errors

import (
	"errors"
	"fmt"
)

// Code is the machine-readable part of an [Error]. It is what the API
// returns in error bodies and what metrics are labeled with.
type Code string

const (
	// Rejected producer input.
	ErrCodeProtocolViolation Code = "PROTOCOL_VIOLATION"
	ErrCodeMalformedMessage  Code = "MALFORMED_MESSAGE"
	ErrCodeUnknownComponent  Code = "UNKNOWN_COMPONENT"
	ErrCodeInvalidEntity     Code = "INVALID_ENTITY"
	ErrCodeDerivedComponent  Code = "DERIVED_COMPONENT"
	ErrCodeParentCycle       Code = "PARENT_CYCLE"

	// Caller input.
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"
	ErrCodeInvalidFormat Code = "INVALID_FORMAT"

	ErrCodeNotFound        Code = "NOT_FOUND"
	ErrCodeSessionNotFound Code = "SESSION_NOT_FOUND"

	// Connection loss; recovered by resync.
	ErrCodeTransport Code = "TRANSPORT_FAILURE"
	ErrCodeTimeout   Code = "TIMEOUT"

	ErrCodeLayoutInvariant Code = "LAYOUT_INVARIANT"

	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error pairs a [Code] with a message and an optional cause.
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

// New returns an Error with a formatted message and no cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap returns an Error carrying cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether the outermost *Error in err's chain has code.
func Is(err error, code Code) bool {
	return code != "" && GetCode(err) == code
}

// GetCode returns the code of the outermost *Error in err's chain, or "".
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage strips the code prefix and cause from coded errors. Other
// errors are returned verbatim.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsProtocolViolation reports whether err is rejected producer input.
func IsProtocolViolation(err error) bool {
	switch GetCode(err) {
	case ErrCodeProtocolViolation, ErrCodeMalformedMessage, ErrCodeUnknownComponent,
		ErrCodeInvalidEntity, ErrCodeDerivedComponent, ErrCodeParentCycle:
		return true
	}
	return false
}
