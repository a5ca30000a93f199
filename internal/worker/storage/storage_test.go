package storage

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/credit-batch/internal/worker/domain"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(sqlx.NewDb(db, "postgres"), logger), mock
}

func TestStorage_ClaimJob(t *testing.T) {
	t.Run("claimed", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery("UPDATE batch_jobs").
			WithArgs(domain.JobStatusRunning, "worker-1", "job-1", domain.JobStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{
				"job_id", "account_id", "payload", "stop_requested", "retry_count", "max_retries", "timeout_seconds",
			}).AddRow("job-1", "acc-1", `{"account_id":"acc-1"}`, false, 1, 3, 60))

		job, err := s.ClaimJob(context.Background(), "job-1", "worker-1")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", job.AccountID)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		assert.Equal(t, "worker-1", job.WorkerID)
		assert.Equal(t, 1, job.RetryCount)
		assert.Equal(t, 60, job.TimeoutSeconds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not pending", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery("UPDATE batch_jobs").WillReturnError(sql.ErrNoRows)

		_, err := s.ClaimJob(context.Background(), "job-1", "worker-1")
		assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_UpdateJobStatus(t *testing.T) {
	tests := []struct {
		name       string
		result     []byte
		wantResult interface{}
	}{
		{name: "with result", result: []byte(`{"summary":{}}`), wantResult: `{"summary":{}}`},
		{name: "without result", result: nil, wantResult: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectExec("UPDATE batch_jobs").
				WithArgs(domain.JobStatusCompleted, tt.wantResult, "",
					domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCanceled, "job-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := s.UpdateJobStatus(context.Background(), "job-1", domain.JobStatusCompleted, tt.result, "")
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_UpdateJobHeartbeat(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery("RETURNING stop_requested").
		WithArgs("job-1", domain.JobStatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"stop_requested"}).AddRow(true))
	mock.ExpectQuery("RETURNING stop_requested").
		WithArgs("job-2", domain.JobStatusRunning).
		WillReturnError(sql.ErrNoRows)

	stop, err := s.UpdateJobHeartbeat(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, stop)

	stop, err = s.UpdateJobHeartbeat(context.Background(), "job-2")
	require.NoError(t, err)
	assert.False(t, stop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ReleaseJob(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("retry_count = retry_count \\+ 1").
		WithArgs(domain.JobStatusPending, "ledger unavailable", "job-1", domain.JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("retry_count = retry_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.ReleaseJob(context.Background(), "job-1", "ledger unavailable"))
	assert.ErrorIs(t, s.ReleaseJob(context.Background(), "job-1", "again"), domain.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
