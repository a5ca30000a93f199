// Package bootstrap builds the ledger and orchestrator shared by the API
// and worker services from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/credit-batch/internal/batch"
	"github.com/cuongbtq/credit-batch/internal/classifier"
	"github.com/cuongbtq/credit-batch/internal/config"
	"github.com/cuongbtq/credit-batch/internal/ledger"
	"github.com/cuongbtq/credit-batch/internal/ledger/cache"
	"github.com/cuongbtq/credit-batch/internal/ledger/storage"
	"github.com/cuongbtq/credit-batch/migrations"
	"github.com/cuongbtq/credit-batch/shared/logger"
	"github.com/cuongbtq/credit-batch/shared/postgresql"
	"github.com/cuongbtq/credit-batch/shared/redis"
)

// Services holds the components both binaries run batches with
type Services struct {
	Ledger       *ledger.Ledger
	Orchestrator *batch.Orchestrator

	redis *redis.Client
}

// Close releases connections opened by NewServices
func (s *Services) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// Migrate applies the embedded schema scripts in order
func Migrate(ctx context.Context, db *postgresql.Client) error {
	scripts, err := migrations.Up()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	for _, s := range scripts {
		if err := db.Migrate(ctx, s.Name, s.SQL); err != nil {
			return err
		}
	}
	return nil
}

// NewServices wires the ledger store and cache, the classifier and the
// orchestrator. db may be nil when the ledger backend is memory.
func NewServices(cfg *config.Config, db *postgresql.Client, appLogger *logger.Logger) (*Services, error) {
	s := &Services{}

	l, err := s.newLedger(cfg, db, appLogger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Ledger = l

	timeout := cfg.Classifier.Timeout
	if timeout <= 0 {
		timeout = classifier.DefaultTimeout
	}
	provider := classifier.NewHTTPProvider(&classifier.HTTPConfig{
		BaseURL: cfg.Classifier.BaseURL,
		APIKey:  cfg.Classifier.APIKey,
		Model:   cfg.Classifier.Model,
	}, &http.Client{}, appLogger.Component("classifier"))

	s.Orchestrator = batch.NewOrchestrator(&batch.Config{
		Logger:             appLogger.Component("orchestrator"),
		Ledger:             l,
		Invoker:            classifier.NewInvoker(provider, timeout, appLogger.Component("classifier")),
		MaxBatchSize:       cfg.Batch.MaxBatchSize,
		DefaultConcurrency: cfg.Batch.DefaultConcurrency,
		Limits: batch.Limits{
			MaxItemBytes:      cfg.Batch.MaxItemBytes,
			AllowedMediaTypes: cfg.Batch.AllowedMediaTypes,
		},
	})

	return s, nil
}

func (s *Services) newLedger(cfg *config.Config, db *postgresql.Client, appLogger *logger.Logger) (*ledger.Ledger, error) {
	ledgerLogger := appLogger.Component("ledger")

	var store ledger.Store
	switch cfg.Ledger.Backend {
	case config.BackendMemory:
		store = storage.NewMemory()
	case "", config.BackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres ledger backend needs a database client")
		}
		store = storage.NewPostgres(db.GetDB(), ledgerLogger)
	default:
		return nil, fmt.Errorf("unknown ledger backend: %q", cfg.Ledger.Backend)
	}

	ttl := cfg.Ledger.CacheTTL
	if ttl <= 0 {
		ttl = ledger.DefaultCacheTTL
	}

	var balanceCache ledger.BalanceCache
	switch cfg.Ledger.CacheBackend {
	case "", config.BackendMemory:
		balanceCache = cache.NewMemory(ttl, time.Now)
	case config.BackendRedis:
		client, err := redis.NewClient(&redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, appLogger.Component("redis"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		s.redis = client
		balanceCache = cache.NewRedis(client.Redis(), ttl, ledgerLogger)
	default:
		return nil, fmt.Errorf("unknown ledger cache backend: %q", cfg.Ledger.CacheBackend)
	}

	ledgerLogger.Info("Ledger configured",
		slog.String("backend", cfg.Ledger.Backend),
		slog.String("cache_backend", cfg.Ledger.CacheBackend),
		slog.Duration("cache_ttl", ttl),
	)

	return ledger.New(&ledger.Config{
		Logger: ledgerLogger,
		Store:  store,
		Cache:  balanceCache,
	}), nil
}
