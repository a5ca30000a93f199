package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatch is returned for empty, oversized or malformed batch requests
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrAlreadyStarted is returned when Run is called more than once on a job
	ErrAlreadyStarted = errors.New("batch job already started")

	// ErrBatchNotFound is returned when no running batch matches an ID
	ErrBatchNotFound = errors.New("batch not found")
)

// ValidationError rejects one item before it reaches the provider
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("item %d failed validation: %s", e.Index, e.Reason)
}

// SettlementError reports that the single aggregate deduction failed after
// items were processed. Results are still returned to the caller.
type SettlementError struct {
	Amount int64
	Err    error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement of %d credits failed: %v", e.Amount, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}
