package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/credit-batch/internal/api/handler"
	"github.com/cuongbtq/credit-batch/internal/api/router"
	"github.com/cuongbtq/credit-batch/internal/api/storage"
	"github.com/cuongbtq/credit-batch/internal/batch"
	"github.com/cuongbtq/credit-batch/internal/bootstrap"
	"github.com/cuongbtq/credit-batch/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig("API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml")
	if err != nil {
		return err
	}
	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("environment", cfg.App.Environment),
	)

	infra, err := bootstrap.Open(context.Background(), cfg, appLogger)
	if err != nil {
		return err
	}
	defer infra.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(cfg, infra),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP server listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server", slog.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// streaming batches still open are cut off at the deadline
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

func newRouter(cfg *config.Config, infra *bootstrap.Infra) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:             infra.Logger.Component("api"),
		Ledger:             infra.Services.Ledger,
		Orchestrator:       infra.Services.Orchestrator,
		Registry:           batch.NewRegistry(),
		Jobs:               storage.NewStorage(infra.DB),
		Publisher:          infra.Rabbit,
		DefaultPerItemCost: cfg.Batch.DefaultPerItemCost,
		DefaultMaxRetries:  cfg.Worker.MaxRetries,
		Readiness:          infra.ReadinessChecks(),
	})
}
