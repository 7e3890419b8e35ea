package job

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError reports bad input. It is returned synchronously to the
// submitter and the job is never created.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// MalformedOutputError means the model answered, but not in the structured
// shape the job kind expects. It is terminal.
type MalformedOutputError struct {
	Kind Kind
	Err  error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed %s output from model: %v", e.Kind, e.Err)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

// ErrorKind is the error class stored alongside a failed record.
type ErrorKind string

const (
	ErrorKindInvalidJob        ErrorKind = "invalid_job"
	ErrorKindProviderTransient ErrorKind = "provider_transient"
	ErrorKindProviderPermanent ErrorKind = "provider_permanent"
	ErrorKindMalformedOutput   ErrorKind = "malformed_provider_output"
)

// transientError is satisfied by provider errors without importing the
// provider package.
type transientError interface {
	error
	Temporary() bool
}

// ClassifyError maps a processing failure onto a stored ErrorKind.
func ClassifyError(err error) ErrorKind {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return ErrorKindInvalidJob
	}
	var malformed *MalformedOutputError
	if errors.As(err, &malformed) {
		return ErrorKindMalformedOutput
	}
	// The job ran out of time, most likely while waiting to retry.
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindProviderTransient
	}
	var transient transientError
	if errors.As(err, &transient) && transient.Temporary() {
		return ErrorKindProviderTransient
	}
	return ErrorKindProviderPermanent
}
