package upstream

import (
	"errors"
	"fmt"
	"net"
)

// ErrTransient marks failures that happened before the upstream sent any
// response bytes. errors.Is reports true for ConnectError and ExhaustedError.
var ErrTransient = errors.New("upstream: transient failure")

// ConnectError represents a failed attempt to open the upstream stream.
// It covers dial failures, protocol errors and connections that were reset
// before the first body byte arrived. These are retried.
type ConnectError struct {
	// Attempt is the 1-based attempt number that failed
	Attempt int

	// Cause is the underlying transport error
	Cause error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("upstream attempt %d failed: %v", e.Attempt, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrTransient.
func (e *ConnectError) Is(target error) bool {
	return target == ErrTransient
}

// RejectedError represents a non-2xx response from the upstream.
// Rejections are never retried.
type RejectedError struct {
	// StatusCode is the HTTP status returned by the upstream
	StatusCode int

	// Body holds the first bytes of the response body, if any
	Body string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream rejected request (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("upstream rejected request (status %d): %s", e.StatusCode, e.Body)
}

// ExhaustedError is returned once every attempt failed transiently.
type ExhaustedError struct {
	// Attempts is the number of requests issued
	Attempts int

	// Last is the failure of the final attempt
	Last error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("upstream unavailable after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports whether target is ErrTransient.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrTransient
}

// StreamError represents a failure while reading an upstream stream that
// already delivered bytes. Callers treat it as the end of the stream.
type StreamError struct {
	// Message describes where the read failed
	Message string

	// Cause is the underlying read error
	Cause error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream stream error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream stream error: %s", e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// IsRejected reports whether err is an upstream rejection.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// IsTimeout reports whether err was caused by a connect, read or write deadline.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
