package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/credit-batch/internal/batch"
	batchdomain "github.com/cuongbtq/credit-batch/internal/batch/domain"
	ledgerdomain "github.com/cuongbtq/credit-batch/internal/ledger/domain"
	"github.com/cuongbtq/credit-batch/internal/worker/domain"
)

// processJob claims a job, runs its batch and records the outcome.
// A nil return means the message can be ACKed.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: Claim job from database (PENDING → RUNNING)
	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		w.logger.Error("Failed to claim job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		// still PENDING, safe to deliver again
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	// Step 2: Decode the stored submission
	var sub batchdomain.Submission
	if err := json.Unmarshal([]byte(job.Payload), &sub); err != nil {
		w.failJob(ctx, job.JobID, fmt.Sprintf("invalid payload JSON: %s", err.Error()))
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if sub.AccountID != job.AccountID {
		w.failJob(ctx, job.JobID, "payload account does not match job account")
		return fmt.Errorf("%w: account mismatch", domain.ErrInvalidPayload)
	}

	batchJob, err := w.orchestrator.NewJob(&sub)
	if err != nil {
		w.failJob(ctx, job.JobID, err.Error())
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	// Step 3: Bound the run by the job's timeout
	jobTimeout := w.jobTimeout
	if job.TimeoutSeconds > 0 {
		jobTimeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, jobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Step 4: Heartbeat and stop polling until the run returns
	watchDone := make(chan struct{})
	go w.watchJob(jobCtx, job.JobID, batchJob, watchDone)

	result, runErr := batchJob.Run(jobCtx, func(p batchdomain.Progress) {
		w.logger.Debug("Job progress",
			slog.String("job_id", job.JobID),
			slog.Int("processed", p.ProcessedCount),
			slog.Int("total", p.TotalCount),
			slog.Float64("percentage", p.Percentage),
		)
	})
	close(watchDone)

	// the run has settled, its outcome must be recorded even during shutdown
	finishCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		return w.handleRunError(finishCtx, job, runErr)
	}

	// Step 5: Record the result
	status, errorMsg := finalStatus(result, batchJob, jobCtx.Err())

	body, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("Failed to encode job result",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		body = nil
	}

	if updateErr := w.storage.UpdateJobStatus(finishCtx, job.JobID, status, body, errorMsg); updateErr != nil {
		// credits are settled, re-running would charge twice
		w.logger.Error("Failed to record job result",
			slog.String("job_id", job.JobID),
			slog.String("status", status),
			slog.String("error", updateErr.Error()),
		)
	}

	w.logger.Info("Job finished",
		slog.String("job_id", job.JobID),
		slog.String("status", status),
		slog.Int("successful", result.Summary.Successful),
		slog.Int("failed", result.Summary.Failed),
		slog.Int64("credits_used", result.Summary.CreditsUsed),
	)

	return nil
}

// handleRunError deals with a batch that was rejected before any item ran
func (w *Worker) handleRunError(ctx context.Context, job *domain.Job, runErr error) error {
	if errors.Is(runErr, ledgerdomain.ErrInsufficientCredits) {
		w.failJob(ctx, job.JobID, runErr.Error())
		return fmt.Errorf("%w: %v", domain.ErrInsufficientCredits, runErr)
	}
	if errors.Is(runErr, ledgerdomain.ErrAccountNotFound) {
		w.failJob(ctx, job.JobID, runErr.Error())
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, runErr)
	}

	if job.CanRetry() {
		w.logger.Info("Job will be retried",
			slog.String("job_id", job.JobID),
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
			slog.String("error", runErr.Error()),
		)
		if err := w.storage.ReleaseJob(ctx, job.JobID, runErr.Error()); err != nil {
			w.logger.Error("Failed to release job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			w.failJob(ctx, job.JobID, runErr.Error())
			return fmt.Errorf("failed to release job: %w", err)
		}
		return domain.NewRetryableError(fmt.Errorf("job execution failed: %w", runErr))
	}

	w.logger.Warn("Job exceeded max retries",
		slog.String("job_id", job.JobID),
		slog.Int("retry_count", job.RetryCount),
		slog.Int("max_retries", job.MaxRetries),
	)
	w.failJob(ctx, job.JobID, runErr.Error())
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, runErr)
}

func (w *Worker) failJob(ctx context.Context, jobID, msg string) {
	if err := w.storage.UpdateJobStatus(ctx, jobID, domain.JobStatusFailed, nil, msg); err != nil {
		w.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// finalStatus maps a finished run onto a job status
func finalStatus(result *batchdomain.Result, job *batch.Job, ctxErr error) (string, string) {
	var msgs []string
	if result.Summary.SettlementError != "" {
		msgs = append(msgs, result.Summary.SettlementError)
	}

	status := domain.JobStatusCompleted
	if result.Summary.StoppedEarly {
		switch {
		case job.StopRequested():
			status = domain.JobStatusCanceled
		case errors.Is(ctxErr, context.DeadlineExceeded):
			status = domain.JobStatusFailed
			msgs = append(msgs, fmt.Sprintf("job timed out after %d of %d items", result.Summary.Processed, result.Summary.Total))
		default:
			status = domain.JobStatusCanceled
			msgs = append(msgs, "worker shut down before the batch finished")
		}
	}

	return status, strings.Join(msgs, "; ")
}

// watchJob refreshes the job heartbeat and stops the batch once a stop is requested
func (w *Worker) watchJob(ctx context.Context, jobID string, job *batch.Job, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Job heartbeat started",
		slog.String("job_id", jobID),
	)

	for {
		select {
		case <-done:
			w.logger.Debug("Job heartbeat stopped",
				slog.String("job_id", jobID),
			)
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			stop, err := w.storage.UpdateJobHeartbeat(ctx, jobID)
			if err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if stop {
				job.Stop()
			}
		}
	}
}
