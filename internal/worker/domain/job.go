package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// batch_jobs.status values the worker reads or writes
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

// Job is the slice of a batch_jobs row the worker needs to run it
type Job struct {
	JobID          string `db:"job_id"`
	AccountID      string `db:"account_id"`
	Payload        string `db:"payload"` // JSON-encoded submission
	Status         string `db:"status"`
	WorkerID       string `db:"worker_id"`
	StopRequested  bool   `db:"stop_requested"`
	RetryCount     int    `db:"retry_count"`
	MaxRetries     int    `db:"max_retries"`
	TimeoutSeconds int    `db:"timeout_seconds"`
}

// CanRetry reports whether a release would stay within the retry budget
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// JobMessage is the queue body published by the API when a job is created.
// It carries only the ID; the submission itself lives in batch_jobs.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// DecodeJobMessage parses a queue body. Errors wrap ErrInvalidPayload.
func DecodeJobMessage(body []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.JobID == "" {
		return nil, fmt.Errorf("%w: job_id is missing", ErrInvalidPayload)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id %q is not a UUID", ErrInvalidPayload, msg.JobID)
	}
	return &msg, nil
}
