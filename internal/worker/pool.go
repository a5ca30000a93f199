package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/credit-batch/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// settlement is what happens to a delivery once its job has been handled
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDrop
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "drop"
	}
}

// spawnWorkerPool starts one goroutine per concurrency slot
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, fmt.Sprintf("%s-%d", w.workerID, i))
	}

	w.logger.Info("Worker pool spawned",
		slog.String("worker_id", w.workerID),
		slog.Int("worker_count", w.concurrency),
	)
}

func (w *Worker) workerLoop(ctx context.Context, name string) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping", slog.String("worker_name", name))
			return
		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping", slog.String("worker_name", name))
			return
		case qj, ok := <-w.jobsChan:
			if !ok {
				return
			}
			w.handleJob(ctx, name, qj)
		}
	}
}

// handleJob runs one queued job and settles its delivery. A job is acked
// whenever its outcome was recorded, including FAILED and CANCELED runs.
func (w *Worker) handleJob(ctx context.Context, name string, qj *queuedJob) {
	w.logger.Info("Worker received job",
		slog.String("worker_name", name),
		slog.String("job_id", qj.msg.JobID),
	)

	err := w.processJob(ctx, qj.msg)
	if err != nil {
		w.logger.Error("Job processing failed",
			slog.String("worker_name", name),
			slog.String("job_id", qj.msg.JobID),
			slog.String("error", err.Error()),
		)
	}

	w.settle(qj.delivery, qj.msg.JobID, settlementFor(err))
}

// settle acks or nacks through the delivery's own channel
func (w *Worker) settle(d amqp.Delivery, jobID string, s settlement) {
	var err error
	switch s {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}

	attrs := []any{
		slog.String("job_id", jobID),
		slog.Uint64("delivery_tag", d.DeliveryTag),
		slog.String("settlement", s.String()),
	}
	if err != nil {
		w.logger.Error("Failed to settle delivery", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	w.logger.Debug("Delivery settled", attrs...)
}

func settlementFor(err error) settlement {
	switch {
	case err == nil:
		return settleAck
	case shouldRequeueJob(err):
		return settleRequeue
	default:
		return settleDrop
	}
}

// shouldRequeueJob reports whether a failed job can be picked up again.
// Only RetryableError qualifies.
func shouldRequeueJob(err error) bool {
	switch {
	case errors.Is(err, domain.ErrJobAlreadyClaimed),
		errors.Is(err, domain.ErrMaxRetriesExceeded),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInsufficientCredits):
		return false
	}

	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}
