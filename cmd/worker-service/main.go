package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/credit-batch/internal/bootstrap"
	"github.com/cuongbtq/credit-batch/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig("WORKER_SERVICE_CONFIG_PATH", "configs/worker-service/config.yaml")
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	infra, err := bootstrap.Open(context.Background(), cfg, appLogger)
	if err != nil {
		return err
	}
	defer infra.Close()

	w := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Component("worker"),
		DBClient:          infra.DB,
		RabbitClient:      infra.Rabbit,
		Orchestrator:      infra.Services.Orchestrator,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		QueueName:         cfg.RabbitMQ.Queue.Name,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down", slog.String("signal", sig.String()))
	case err := <-startErr:
		if err != nil {
			return fmt.Errorf("worker failed: %w", err)
		}
	}

	// running batches observe the cancel at their next window boundary,
	// settle and record CANCELED
	cancel()
	if !stopWithin(w, cfg.Worker.ShutdownTimeout) {
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit",
			slog.String("worker_id", w.ID()),
		)
		return nil
	}

	appLogger.Info("Worker service shutdown complete", slog.String("worker_id", w.ID()))
	return nil
}

// stopWithin reports whether Stop returned before timeout
func stopWithin(w *worker.Worker, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
