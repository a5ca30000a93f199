package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/credit-batch/internal/config"
	"github.com/cuongbtq/credit-batch/shared/logger"
	"github.com/cuongbtq/credit-batch/shared/postgresql"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func baseConfig() *config.Config {
	return &config.Config{
		Ledger:     config.LedgerConfig{Backend: config.BackendMemory, CacheBackend: config.BackendMemory, CacheTTL: time.Second},
		Batch:      config.BatchConfig{MaxBatchSize: 4, DefaultConcurrency: 2},
		Classifier: config.ClassifierConfig{BaseURL: "http://classifier.local"},
	}
}

func TestNewServices_Memory(t *testing.T) {
	s, err := NewServices(baseConfig(), nil, testLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 4, s.Orchestrator.MaxBatchSize())

	ctx := context.Background()
	_, err = s.Ledger.OpenAccount(ctx, "acc-1", 25)
	require.NoError(t, err)

	balance, err := s.Ledger.GetBalance(ctx, "acc-1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)
}

func TestNewServices_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := baseConfig()
	cfg.Ledger.CacheBackend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	s, err := NewServices(cfg, nil, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Ledger.OpenAccount(context.Background(), "acc-1", 7)
	require.NoError(t, err)
	assert.False(t, mr.Exists("ledger:balance:acc-1"))

	balance, err := s.Ledger.GetBalance(context.Background(), "acc-1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)
	assert.True(t, mr.Exists("ledger:balance:acc-1"))

	checks := (&Infra{Services: s}).ReadinessChecks()
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"](context.Background()))
}

func TestNewServices_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "postgres without db", mutate: func(c *config.Config) { c.Ledger.Backend = config.BackendPostgres }},
		{name: "unknown backend", mutate: func(c *config.Config) { c.Ledger.Backend = "sqlite" }},
		{name: "unknown cache", mutate: func(c *config.Config) { c.Ledger.CacheBackend = "memcached" }},
		{name: "redis unreachable", mutate: func(c *config.Config) {
			c.Ledger.CacheBackend = config.BackendRedis
			c.Redis.Addr = "127.0.0.1:1"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			_, err := NewServices(cfg, nil, testLogger())
			assert.Error(t, err)
		})
	}
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	client := postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), client))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientConfigMapping(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Host: "db", Port: 5433, User: "u", Database: "credits", SSLMode: "require", MaxOpenConns: 7},
		RabbitMQ: config.RabbitMQConfig{
			Host:       "mq",
			Port:       5672,
			VHost:      "/",
			RoutingKey: "batch.job",
			Exchange:   config.ExchangeConfig{Name: "batch", Type: "direct", Durable: true},
			Queue:      config.QueueConfig{Name: "batch_jobs", Durable: true},
			Publish:    config.PublishConfig{RetryAttempts: 4, BackoffMultiplier: 1.5},
		},
	}

	pg := PostgresConfig(&cfg.Database)
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, 7, pg.MaxOpenConns)
	assert.Contains(t, pg.DSN(), "sslmode=require")

	mq := RabbitMQConfig(&cfg.RabbitMQ)
	assert.Equal(t, "batch", mq.ExchangeName)
	assert.Equal(t, "batch_jobs", mq.QueueName)
	assert.Equal(t, "batch.job", mq.RoutingKey)
	assert.Equal(t, 4, mq.PublishRetries)
	assert.InDelta(t, 1.5, mq.PublishBackoffMult, 1e-9)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(&config.Config{
		App:     config.AppConfig{Name: "credit-batch-api", Version: "1.0.0"},
		Logging: config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"},
	})
	require.NoError(t, err)
	defer l.Close()
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
}

func TestInfra_CloseNothingOpened(t *testing.T) {
	in := &Infra{Logger: testLogger()}
	assert.NoError(t, in.Close())
	assert.Empty(t, in.ReadinessChecks())
}
