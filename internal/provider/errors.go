package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is a failed provider call. Transient errors (timeouts, rate limits,
// server faults) may succeed on a later attempt; permanent ones will not.
type Error struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api error (%s, status %d): %v", e.Provider, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s api error (%s): %v", e.Provider, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether the call is worth retrying.
func (e *Error) Temporary() bool {
	return e.Transient
}

// IsTransient reports whether err is a provider error that may be retried.
func IsTransient(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Transient
}

// TransportError wraps a failure to get any HTTP response at all.
func TransportError(name string, err error) *Error {
	transient := true
	if errors.Is(err, context.Canceled) {
		transient = false
	}
	return &Error{Provider: name, Transient: transient, Err: err}
}

// StatusError classifies a non-200 response.
func StatusError(name string, status int, body []byte) *Error {
	return &Error{
		Provider:   name,
		StatusCode: status,
		Transient:  transientStatus(status),
		Err:        errors.New(string(body)),
	}
}

// InvalidResponse wraps a 200 response whose body could not be used.
func InvalidResponse(name string, err error) *Error {
	return &Error{Provider: name, Err: err}
}

func transientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
