package kefexcan

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrOutOfRange        = errors.New("parameter out of range")
	ErrNotFound          = errors.New("not found")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCommunication     = errors.New("communication failure")
	ErrErrorResponse     = errors.New("error response")
	ErrChecksum          = errors.New("checksum mismatch")
	ErrIO                = errors.New("io error")
	ErrWarning           = errors.New("warning")

	// ErrNoData is returned by a Channel when no frame is pending.
	ErrNoData = errors.New("no data")

	ErrNilChannel = errors.New("channel is nil")
)

type warningError struct {
	error
}

func (e warningError) Error() string {
	if e.error == nil {
		return "warning"
	}
	return "warning: " + e.error.Error()
}

func (e warningError) Unwrap() []error {
	if e.error == nil {
		return []error{ErrWarning}
	}
	return []error{ErrWarning, e.error}
}

// Warn wraps an error in `warningError`, marking an operation that
// succeeded with an adjustment.
func Warn(err error) error {
	return warningError{err}
}

// IsWarning checks if error is a warning rather than a failure
func IsWarning(err error) bool {
	return err != nil && errors.Is(err, ErrWarning)
}

// ErrorResponse is a peer application error. Code is kept verbatim.
type ErrorResponse struct {
	Service byte
	Code    uint16
	Text    string
}

func (e *ErrorResponse) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("error response to service 0x%02X: code 0x%04X (%s)", e.Service, e.Code, e.Text)
	}
	return fmt.Sprintf("error response to service 0x%02X: code 0x%04X", e.Service, e.Code)
}

func (e *ErrorResponse) Is(target error) bool {
	return target == ErrErrorResponse
}

type TimeoutError struct {
	Timeout time.Duration
	Service byte
	Type    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout (%dms) waiting for service 0x%02X", e.Type, e.Timeout.Milliseconds(), e.Service)
}

func (e *TimeoutError) Unwrap() error {
	return ErrCommunication
}
