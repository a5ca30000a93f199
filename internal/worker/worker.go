package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/credit-batch/internal/batch"
	"github.com/cuongbtq/credit-batch/internal/worker/domain"
	"github.com/cuongbtq/credit-batch/internal/worker/storage"
	"github.com/cuongbtq/credit-batch/shared/postgresql"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultHeartbeatInterval = 30 * time.Second

// JobStore is the batch_jobs access the worker needs
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID, status string, result []byte, errorMsg string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) (bool, error)
	ReleaseJob(ctx context.Context, jobID, errorMsg string) error
}

// Subscriber is the queue side of the RabbitMQ client
type Subscriber interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	DBClient          *postgresql.Client
	RabbitClient      Subscriber
	Orchestrator      *batch.Orchestrator
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	QueueName         string

	// Store overrides the postgres job storage built from DBClient
	Store JobStore
}

// Worker consumes job IDs from RabbitMQ and runs the stored batches
type Worker struct {
	logger            *slog.Logger
	queue             Subscriber
	orchestrator      *batch.Orchestrator
	storage           JobStore
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	rabbitMQQueueName string
	jobsChan          chan *queuedJob
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	store := cfg.Store
	if store == nil && cfg.DBClient != nil {
		store = storage.NewStorage(cfg.DBClient.GetDB(), cfg.Logger)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	return &Worker{
		logger:            cfg.Logger,
		queue:             cfg.RabbitClient,
		orchestrator:      cfg.Orchestrator,
		storage:           store,
		workerID:          newWorkerID(),
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		rabbitMQQueueName: cfg.QueueName,
		jobsChan:          make(chan *queuedJob),
		stopChan:          make(chan struct{}),
	}
}

func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// ID returns the identifier this worker claims jobs under
func (w *Worker) ID() string {
	return w.workerID
}

// Start subscribes to the queue, spawns the pool and blocks until ctx is done
// or the broker closes the delivery channel, which is reported as an error.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("heartbeat_interval", w.heartbeatInterval),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	dispatcherDone := make(chan struct{})
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(dispatcherDone)
		w.startMessageDispatcher(ctx, deliveries)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
		return nil
	case <-dispatcherDone:
		if ctx.Err() != nil {
			return nil
		}
		// broker closed the channel; exit so the process can be restarted
		return errors.New("queue delivery channel closed")
	}
}

// Stop gracefully stops the worker. Jobs in flight finish their current
// window and settle before Stop returns.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
