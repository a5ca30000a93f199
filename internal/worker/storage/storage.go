package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/credit-batch/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// claimedColumns are returned by a successful claim and scanned into domain.Job
const claimedColumns = `job_id, account_id, payload, stop_requested, retry_count, max_retries, timeout_seconds`

// Storage is the worker's view of batch_jobs. Every write is guarded by
// the status it expects, so a row another worker or the API moved on is
// left alone.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// ClaimJob moves a PENDING job to RUNNING under workerID. A job that is
// missing or no longer PENDING yields ErrJobAlreadyClaimed.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE batch_jobs
		SET status = $1, worker_id = $2,
		    started_at = NOW(), last_heartbeat_at = NOW(), updated_at = NOW()
		WHERE job_id = $3 AND status = $4
		RETURNING ` + claimedColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusRunning, workerID, jobID, domain.JobStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobAlreadyClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusRunning
	job.WorkerID = workerID

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("account_id", job.AccountID),
		slog.Int("retry_count", job.RetryCount),
	)
	return &job, nil
}

// UpdateJobStatus records status, the JSON result if any and an error
// message. Terminal statuses also stamp completed_at.
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID, status string, result []byte, errorMsg string) error {
	query := `
		UPDATE batch_jobs
		SET status = $1::text,
		    result = $2::jsonb,
		    error_message = $3,
		    completed_at = CASE WHEN $1::text IN ($4::text, $5::text, $6::text) THEN NOW() ELSE NULL END,
		    updated_at = NOW()
		WHERE job_id = $7
	`

	// lib/pq sends []byte as bytea, jsonb needs text
	var resultArg any
	if result != nil {
		resultArg = string(result)
	}

	if _, err := s.db.ExecContext(ctx, query, status, resultArg, errorMsg,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCanceled, jobID); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status recorded",
		slog.String("job_id", jobID),
		slog.String("status", status),
		slog.Int("result_bytes", len(result)),
	)
	return nil
}

// UpdateJobHeartbeat stamps a RUNNING job and returns its stop_requested
// flag. A job that is no longer RUNNING reports false without error.
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE batch_jobs
		SET last_heartbeat_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status = $2
		RETURNING stop_requested
	`

	var stop bool
	err := s.db.GetContext(ctx, &stop, query, jobID, domain.JobStatusRunning)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("Heartbeat skipped, job is not running", slog.String("job_id", jobID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update job heartbeat: %w", err)
	}
	return stop, nil
}

// ReleaseJob returns a RUNNING job to PENDING and spends one retry.
// Only valid before any item ran, since nothing was charged yet.
func (s *Storage) ReleaseJob(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE batch_jobs
		SET status = $1, worker_id = NULL, started_at = NULL,
		    retry_count = retry_count + 1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, errorMsg, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return domain.ErrJobNotFound
	}

	s.logger.Info("Job released for retry", slog.String("job_id", jobID))
	return nil
}
