package domain

import (
	"errors"
)

const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrDuplicateJob     = errors.New("job with this idempotency key already exists")
	ErrJobNotCancelable = errors.New("job is already in a terminal state")
	ErrJobNotTerminal   = errors.New("job is still pending or running")
)

// IsTerminal reports whether a job can no longer change status
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}
