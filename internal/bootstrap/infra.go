package bootstrap

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/credit-batch/internal/config"
	"github.com/cuongbtq/credit-batch/shared/logger"
	"github.com/cuongbtq/credit-batch/shared/postgresql"
	"github.com/cuongbtq/credit-batch/shared/rabbitmq"
)

// LoadConfig reads .env if present, then the YAML file named by -config,
// falling back to envVar and finally defaultPath.
func LoadConfig(envVar, defaultPath string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	path := os.Getenv(envVar)
	if path == "" {
		path = defaultPath
	}
	configPath := flag.String("config", path, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger; every record carries the service
// name and version from the app section
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Attrs: []slog.Attr{
			slog.String("service", cfg.App.Name),
			slog.String("version", cfg.App.Version),
		},
	})
}

// PostgresConfig maps the database section onto the client config
func PostgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// RabbitMQConfig maps the rabbitmq section onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// Infra is every long-lived connection a service binary holds
type Infra struct {
	Logger   *logger.Logger
	DB       *postgresql.Client
	Rabbit   *rabbitmq.Client
	Services *Services
}

// Open connects postgres, optionally migrates, builds the services and
// finally connects RabbitMQ. Anything opened before a failure is closed.
func Open(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (_ *Infra, err error) {
	in := &Infra{Logger: appLogger}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	in.DB, err = postgresql.NewClient(PostgresConfig(&cfg.Database), appLogger.Component("postgresql"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err = Migrate(ctx, in.DB); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	in.Services, err = NewServices(cfg, in.DB, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	in.Rabbit, err = rabbitmq.NewClient(RabbitMQConfig(&cfg.RabbitMQ), appLogger.Component("rabbitmq"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("Infrastructure ready",
		slog.String("database", cfg.Database.Database),
		slog.String("queue", cfg.RabbitMQ.Queue.Name),
		slog.String("ledger_backend", cfg.Ledger.Backend),
	)
	return in, nil
}

// Close shuts connections down in reverse order of Open
func (in *Infra) Close() error {
	var errs []error
	if in.Rabbit != nil {
		errs = append(errs, in.Rabbit.Close())
	}
	if in.Services != nil {
		errs = append(errs, in.Services.Close())
	}
	if in.DB != nil {
		errs = append(errs, in.DB.Close())
	}
	return errors.Join(errs...)
}

// ReadinessChecks returns one check per dependency the service talks to
func (in *Infra) ReadinessChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if in.DB != nil {
		checks["postgres"] = in.DB.HealthCheck
	}
	if in.Rabbit != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if !in.Rabbit.IsConnected() {
				return errors.New("channel closed")
			}
			return nil
		}
	}
	if in.Services != nil && in.Services.redis != nil {
		checks["redis"] = in.Services.redis.HealthCheck
	}
	return checks
}
