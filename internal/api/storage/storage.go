package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/credit-batch/internal/api/domain"
	"github.com/cuongbtq/credit-batch/internal/api/model"
	"github.com/cuongbtq/credit-batch/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	job_id, idempotency_key, account_id, payload, status, stop_requested,
	worker_id, retry_count, max_retries, timeout_seconds, result, error_message,
	started_at, last_heartbeat_at, completed_at, created_at, updated_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateJob inserts a PENDING job. A reused idempotency key returns ErrDuplicateJob.
func (s *Storage) CreateJob(ctx context.Context, job *model.BatchJob) error {
	query := `
		INSERT INTO batch_jobs (
			job_id, idempotency_key, account_id, payload, status,
			max_retries, timeout_seconds, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	res, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.IdempotencyKey,
		job.AccountID,
		job.Payload,
		job.Status,
		job.MaxRetries,
		job.TimeoutSeconds,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDuplicateJob
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.BatchJob, error) {
	return s.getJob(ctx, "job_id", jobID)
}

func (s *Storage) GetJobByIdempotencyKey(ctx context.Context, key string) (*model.BatchJob, error) {
	return s.getJob(ctx, "idempotency_key", key)
}

func (s *Storage) getJob(ctx context.Context, column, value string) (*model.BatchJob, error) {
	var job model.BatchJob
	query := `SELECT ` + jobColumns + ` FROM batch_jobs WHERE ` + column + ` = $1`

	err := s.db.GetContext(ctx, &job, query, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	AccountID string
	Status    string
	PageSize  int
	Cursor    *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM batch_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.AccountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", argIdx)
		args = append(args, filter.AccountID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.BatchJob
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// RequestStop flags a job for stopping. A PENDING job is canceled outright,
// a RUNNING job is stopped by its worker at the next window boundary.
// Returns the job's status after the update.
func (s *Storage) RequestStop(ctx context.Context, jobID string) (string, error) {
	query := `
		UPDATE batch_jobs
		SET stop_requested = TRUE,
		    status = CASE WHEN status = $2 THEN $4 ELSE status END,
		    completed_at = CASE WHEN status = $2 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status IN ($2, $3)
		RETURNING status
	`

	var status string
	err := s.db.QueryRowxContext(ctx, query, jobID, domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCanceled).Scan(&status)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to request stop: %w", err)
	}

	if _, err := s.GetJobByID(ctx, jobID); err != nil {
		return "", err
	}
	return "", domain.ErrJobNotCancelable
}

// DeleteJob removes a job in a terminal state
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	query := `
		DELETE FROM batch_jobs
		WHERE job_id = $1
		  AND status IN ($2, $3, $4)
	`

	res, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCanceled)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := s.GetJobByID(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrJobNotTerminal
}
