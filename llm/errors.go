package llm

import (
	"errors"
	"fmt"
)

// Error types for classifying LLM errors.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Sentinel causes carried by ExtractionError.
var (
	ErrNoJSON        = errors.New("no JSON found in response")
	ErrInvalidRecord = errors.New("response does not match schema")
)

// ExtractionError reports a failed structured extraction. The cause is either
// the service call itself or a response that could not be coerced into the
// requested schema.
type ExtractionError struct {
	// Schema is the name of the record shape that was requested.
	Schema string

	// Raw is the unparsed model output, empty when the call itself failed.
	Raw string

	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Schema, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsExtractionError reports whether err is or wraps an ExtractionError.
func IsExtractionError(err error) bool {
	var extractErr *ExtractionError
	return errors.As(err, &extractErr)
}
