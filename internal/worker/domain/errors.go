package domain

import "errors"

// Outcomes of processing a queued job. processJob wraps these so the pool
// can decide whether the delivery is acked, requeued or dropped.
var (
	ErrJobNotFound         = errors.New("job not found")
	ErrJobAlreadyClaimed   = errors.New("job already claimed or no longer PENDING")
	ErrInvalidPayload      = errors.New("invalid job payload")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
)

// RetryableError marks a failure that left the job PENDING, so a
// redelivery can claim it again.
type RetryableError struct {
	Err error
}

// NewRetryableError wraps err as retryable
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }
