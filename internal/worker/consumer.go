package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/credit-batch/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// queuedJob is a decoded job message still owed an ack or nack
type queuedJob struct {
	msg      *domain.JobMessage
	delivery amqp.Delivery
}

// setupConsumer subscribes under the worker ID with the configured prefetch
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if w.queue == nil {
		return nil, fmt.Errorf("no queue subscriber configured")
	}

	deliveries, err := w.queue.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Job consumer started",
		slog.String("worker_id", w.workerID),
		slog.String("queue", w.rabbitMQQueueName),
		slog.Int("prefetch_count", w.prefetchCount),
	)
	return deliveries, nil
}

// startMessageDispatcher hands decoded deliveries to the pool. Bodies that
// cannot name a job are dropped so they reach the dead-letter route, if any.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	logger := w.logger.With(slog.String("worker_id", w.workerID))
	logger.Info("Message dispatcher started")

	for {
		var delivery amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			logger.Info("Message dispatcher stopped")
			return
		case delivery, ok = <-deliveries:
			if !ok {
				logger.Warn("Delivery channel closed")
				return
			}
		}

		msg, err := domain.DecodeJobMessage(delivery.Body)
		if err != nil {
			logger.Error("Discarding undecodable job message",
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
				slog.Int("body_size", len(delivery.Body)),
				slog.String("error", err.Error()),
			)
			w.settle(delivery, "", settleDrop)
			continue
		}

		select {
		case w.jobsChan <- &queuedJob{msg: msg, delivery: delivery}:
			logger.Debug("Job dispatched to worker pool",
				slog.String("job_id", msg.JobID),
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
			)
		case <-ctx.Done():
			logger.Info("Message dispatcher stopped with a job in hand",
				slog.String("job_id", msg.JobID),
			)
			w.settle(delivery, msg.JobID, settleRequeue)
			return
		}
	}
}
