package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/credit-batch/internal/api/domain"
	"github.com/cuongbtq/credit-batch/internal/api/model"
	"github.com/cuongbtq/credit-batch/shared/postgresql"
)

var columnNames = []string{
	"job_id", "idempotency_key", "account_id", "payload", "status", "stop_requested",
	"worker_id", "retry_count", "max_retries", "timeout_seconds", "result", "error_message",
	"started_at", "last_heartbeat_at", "completed_at", "created_at", "updated_at",
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), logger)), mock
}

func jobRow(id, status string, createdAt time.Time) []driver.Value {
	return []driver.Value{
		id, "key-" + id, "acc-1", `{"account_id":"acc-1"}`, status, false,
		nil, 0, 3, 0, nil, "",
		nil, nil, nil, createdAt, createdAt,
	}
}

func TestStorage_CreateJob(t *testing.T) {
	now := time.Now().UTC()
	job := &model.BatchJob{
		JobID:          "job-1",
		IdempotencyKey: "key-1",
		AccountID:      "acc-1",
		Payload:        `{}`,
		Status:         domain.JobStatusPending,
		MaxRetries:     3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{name: "inserted", rows: 1},
		{name: "duplicate key", rows: 0, wantErr: domain.ErrDuplicateJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectExec("INSERT INTO batch_jobs").
				WithArgs(job.JobID, job.IdempotencyKey, job.AccountID, job.Payload, job.Status,
					job.MaxRetries, job.TimeoutSeconds, job.CreatedAt, job.UpdatedAt).
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			err := s.CreateJob(context.Background(), job)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_GetJobByID(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM batch_jobs WHERE job_id = $1")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(columnNames).AddRow(jobRow("job-1", domain.JobStatusRunning, now)...))

	job, err := s.GetJobByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", job.AccountID)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Nil(t, job.Result)

	mock.ExpectQuery(regexp.QuoteMeta("FROM batch_jobs WHERE idempotency_key = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = s.GetJobByIdempotencyKey(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ListJobs(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Now().UTC()
	cursor := &JobCursor{CreatedAt: now, JobID: "job-9"}

	mock.ExpectQuery(regexp.QuoteMeta("AND account_id = $1 AND status = $2 AND (created_at, job_id) < ($3, $4) ORDER BY created_at DESC, job_id DESC LIMIT $5")).
		WithArgs("acc-1", domain.JobStatusCompleted, cursor.CreatedAt, cursor.JobID, 3).
		WillReturnRows(sqlmock.NewRows(columnNames).
			AddRow(jobRow("job-2", domain.JobStatusCompleted, now.Add(-time.Second))...).
			AddRow(jobRow("job-1", domain.JobStatusCompleted, now.Add(-2*time.Second))...))

	jobs, err := s.ListJobs(context.Background(), JobFilter{
		AccountID: "acc-1",
		Status:    domain.JobStatusCompleted,
		PageSize:  2,
		Cursor:    cursor,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[0].JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_RequestStop(t *testing.T) {
	now := time.Now().UTC()

	t.Run("pending becomes canceled", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery("UPDATE batch_jobs").
			WithArgs("job-1", domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCanceled).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.JobStatusCanceled))

		status, err := s.RequestStop(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCanceled, status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal job", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery("UPDATE batch_jobs").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM batch_jobs WHERE job_id").
			WillReturnRows(sqlmock.NewRows(columnNames).AddRow(jobRow("job-1", domain.JobStatusCompleted, now)...))

		_, err := s.RequestStop(context.Background(), "job-1")
		assert.ErrorIs(t, err, domain.ErrJobNotCancelable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown job", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery("UPDATE batch_jobs").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("FROM batch_jobs WHERE job_id").WillReturnError(sql.ErrNoRows)

		_, err := s.RequestStop(context.Background(), "job-1")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_DeleteJob(t *testing.T) {
	now := time.Now().UTC()

	t.Run("deleted", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("DELETE FROM batch_jobs").
			WithArgs("job-1", domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCanceled).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.DeleteJob(context.Background(), "job-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("still running", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("DELETE FROM batch_jobs").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM batch_jobs WHERE job_id").
			WillReturnRows(sqlmock.NewRows(columnNames).AddRow(jobRow("job-1", domain.JobStatusRunning, now)...))

		assert.ErrorIs(t, s.DeleteJob(context.Background(), "job-1"), domain.ErrJobNotTerminal)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
