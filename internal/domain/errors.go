package domain

import "errors"

var (
	// ErrInvalidJob is returned when job parameters violate a rendering invariant
	ErrInvalidJob = errors.New("invalid job parameters")

	// ErrInvalidPayload is returned when a message body cannot be decoded
	ErrInvalidPayload = errors.New("invalid message payload")

	// ErrUnsupportedFormat is returned when a message is tagged with an unknown format or version
	ErrUnsupportedFormat = errors.New("unsupported message format")

	// ErrRecordNotFound is returned when the record service has no record for a job id
	ErrRecordNotFound = errors.New("fractal record not found")

	// ErrRecordExists is returned when registering a job id that is already known
	ErrRecordExists = errors.New("fractal record already exists")

	// ErrRecordFinalized is returned when a completed record receives a conflicting result
	ErrRecordFinalized = errors.New("fractal record already finalized")
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

// IsRetryable reports whether err, or anything it wraps, is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
