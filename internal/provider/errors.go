package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected marks a permanent refusal; the message must not be retried.
	ErrRejected = errors.New("provider rejected message")
	// ErrUnavailable marks a transient failure that may be retried.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrInvalidSignature marks a callback that failed authentication.
	ErrInvalidSignature = errors.New("invalid callback signature")
)

// RejectedError describes a permanent provider refusal
type RejectedError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected message (http %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrRejected) match
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// UnavailableError describes a transient provider failure
type UnavailableError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s unavailable (http %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrUnavailable) match
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// classify turns a non-2xx response into a typed error. throttled lists
// provider error codes that mean "slow down" even on a 4xx status.
func classify(provider string, status int, code, message string, throttled map[string]bool) error {
	if status == 429 || status >= 500 || throttled[code] {
		return &UnavailableError{Provider: provider, StatusCode: status, Code: code, Message: message}
	}
	return &RejectedError{Provider: provider, StatusCode: status, Code: code, Message: message}
}
