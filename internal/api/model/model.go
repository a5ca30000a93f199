package model

import "time"

// BatchJob is an asynchronous batch persisted in batch_jobs. Payload holds
// the JSON-encoded submission, Result the JSON-encoded run result.
type BatchJob struct {
	JobID           string     `db:"job_id"`
	IdempotencyKey  string     `db:"idempotency_key"`
	AccountID       string     `db:"account_id"`
	Payload         string     `db:"payload"`
	Status          string     `db:"status"`
	StopRequested   bool       `db:"stop_requested"`
	WorkerID        *string    `db:"worker_id"`
	RetryCount      int        `db:"retry_count"`
	MaxRetries      int        `db:"max_retries"`
	TimeoutSeconds  int        `db:"timeout_seconds"`
	Result          *string    `db:"result"`
	ErrorMessage    string     `db:"error_message"`
	StartedAt       *time.Time `db:"started_at"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}
