// Package fault defines the error taxonomy shared by every measurement component.
//
// Each failure carries a Code so callers can decide what to show without
// string matching:
//
//   - InvalidParameter: bad sweep bounds, step counts or timings
//   - NotConfigured: an instrument role or output path is missing
//   - DeviceError: an instrument call failed during a run
//   - StorageError: a result sink could not be opened or written
//   - InvalidState: an operation was issued in the wrong lifecycle state
//
// InvalidParameter and NotConfigured are detected before hardware is touched and
// are reported as a single aggregated error listing every violation.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes errors.
type Code string

const (
	// InvalidParameter indicates a sweep or timing parameter is out of range.
	InvalidParameter Code = "INVALID_PARAMETER"

	// NotConfigured indicates a required instrument role or output is missing.
	NotConfigured Code = "NOT_CONFIGURED"

	// DeviceError indicates an instrument communication or compatibility failure.
	DeviceError Code = "DEVICE_ERROR"

	// StorageError indicates a result sink could not be opened or written.
	StorageError Code = "STORAGE_ERROR"

	// InvalidState indicates an operation is not allowed in the current state.
	InvalidState Code = "INVALID_STATE"
)

// Error is the concrete error type returned by measurement components.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable summary.
	Message string

	// Problems lists every individual violation for aggregated errors.
	Problems []string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Problems) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Problems, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an underlying cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the Code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Has reports whether err's chain contains an *Error with the given code.
func Has(err error, code Code) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Err
	}
	return false
}

// IsInvalidParameter returns true if err carries InvalidParameter.
func IsInvalidParameter(err error) bool { return Has(err, InvalidParameter) }

// IsNotConfigured returns true if err carries NotConfigured.
func IsNotConfigured(err error) bool { return Has(err, NotConfigured) }

// IsDeviceError returns true if err carries DeviceError.
func IsDeviceError(err error) bool { return Has(err, DeviceError) }

// IsStorageError returns true if err carries StorageError.
func IsStorageError(err error) bool { return Has(err, StorageError) }

// IsInvalidState returns true if err carries InvalidState.
func IsInvalidState(err error) bool { return Has(err, InvalidState) }
