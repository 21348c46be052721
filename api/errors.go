// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-accel.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrOperationTimeout  = errors.New("operation timeout")
	ErrNotSupported      = errors.New("operation not supported")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrNotFound          = errors.New("resource not found")
	ErrTransport         = errors.New("transport failure")
	ErrAddressInvalid    = errors.New("address invalid")
	ErrInconsistentState = errors.New("inconsistent state")
	ErrInitFailed        = errors.New("initialization failed")
)

// Refinements of the taxonomy above. Each wraps its parent so errors.Is
// matches both the specific and the general condition.
var (
	ErrAlreadyActive      = fmt.Errorf("%w: already active", ErrAlreadyExists)
	ErrAlreadyBound       = fmt.Errorf("%w: channel already bound", ErrAlreadyExists)
	ErrRingFull           = fmt.Errorf("%w: ring full", ErrResourceExhausted)
	ErrTableFull          = fmt.Errorf("%w: arena table full", ErrResourceExhausted)
	ErrDequeueTimeout     = fmt.Errorf("%w: dequeue", ErrOperationTimeout)
	ErrSetupTimeout       = fmt.Errorf("%w: queue setup", ErrOperationTimeout)
	ErrHandshakeTimeout   = fmt.Errorf("%w: arena handshake", ErrOperationTimeout)
	ErrUnavailableChannel = fmt.Errorf("%w: channel not implemented", ErrNotSupported)
	ErrBusy               = errors.New("channel busy")
)

// ErrorCode represents specific error conditions in the library. Codes are
// carried on the wire after an NG status byte, so values must stay stable.
type ErrorCode uint8

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeInternal
	ErrCodeTransport
	ErrCodeAddressInvalid
	ErrCodeInitFailed
	ErrCodeAlreadyActive
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap maps the code back onto its sentinel so callers can use errors.Is.
func (e *Error) Unwrap() error {
	return e.Code.Sentinel()
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Sentinel returns the sentinel error for a code, or nil for ErrCodeOK.
func (c ErrorCode) Sentinel() error {
	switch c {
	case ErrCodeOK:
		return nil
	case ErrCodeInvalidArgument:
		return ErrInvalidArgument
	case ErrCodeResourceExhausted:
		return ErrResourceExhausted
	case ErrCodeTimeout:
		return ErrOperationTimeout
	case ErrCodeNotSupported:
		return ErrNotSupported
	case ErrCodeAlreadyExists:
		return ErrAlreadyExists
	case ErrCodeNotFound:
		return ErrNotFound
	case ErrCodeTransport:
		return ErrTransport
	case ErrCodeAddressInvalid:
		return ErrAddressInvalid
	case ErrCodeInitFailed:
		return ErrInitFailed
	case ErrCodeAlreadyActive:
		return ErrAlreadyActive
	default:
		return ErrInconsistentState
	}
}

// CodeOf classifies err into the most specific ErrorCode.
func CodeOf(err error) ErrorCode {
	var e *Error
	switch {
	case err == nil:
		return ErrCodeOK
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, ErrAlreadyActive):
		return ErrCodeAlreadyActive
	// An init failure may wrap its cause (a handshake timeout, an exhausted
	// pool); the outcome reported is still init failure.
	case errors.Is(err, ErrInitFailed):
		return ErrCodeInitFailed
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	case errors.Is(err, ErrResourceExhausted):
		return ErrCodeResourceExhausted
	case errors.Is(err, ErrOperationTimeout):
		return ErrCodeTimeout
	case errors.Is(err, ErrNotSupported):
		return ErrCodeNotSupported
	case errors.Is(err, ErrAlreadyExists):
		return ErrCodeAlreadyExists
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrTransport):
		return ErrCodeTransport
	case errors.Is(err, ErrAddressInvalid):
		return ErrCodeAddressInvalid
	default:
		return ErrCodeInternal
	}
}
