package domain

import "errors"

var (
	// ErrCompilationNotFound is returned when a compilation cannot be found in the database
	ErrCompilationNotFound = errors.New("compilation not found")

	// ErrAlreadyClaimed is returned when the compilation is not PENDING any more
	ErrAlreadyClaimed = errors.New("compilation already claimed or not in PENDING status")

	// ErrInvalidMessage is returned when a queue message is malformed
	ErrInvalidMessage = errors.New("invalid compile message")

	// ErrPlateNotFound is returned when a requested plate was deleted
	ErrPlateNotFound = errors.New("plate not found")

	// ErrRejected marks compilations that cannot succeed on retry
	ErrRejected = errors.New("compilation rejected")

	// ErrMaxRetriesExceeded is returned when a compilation has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
