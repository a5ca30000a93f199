package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/credit-batch/internal/api/dto"
	"github.com/cuongbtq/credit-batch/internal/api/model"
	"github.com/cuongbtq/credit-batch/internal/api/storage"
	"github.com/cuongbtq/credit-batch/internal/batch"
	ledgerdomain "github.com/cuongbtq/credit-batch/internal/ledger/domain"
)

// LedgerService is the balance ledger as seen by the HTTP layer
type LedgerService interface {
	OpenAccount(ctx context.Context, accountID string, initialGrant int64) (*ledgerdomain.Receipt, error)
	GetBalance(ctx context.Context, accountID string, forceRefresh bool) (int64, error)
	Validate(ctx context.Context, accountID string, amount int64) (*ledgerdomain.Validation, error)
	Deduct(ctx context.Context, accountID string, amount int64, description string, kind ledgerdomain.EntryKind) (*ledgerdomain.Receipt, error)
	Add(ctx context.Context, accountID string, amount int64, description string, kind ledgerdomain.EntryKind) (*ledgerdomain.Receipt, error)
	History(ctx context.Context, accountID string, limit int) ([]ledgerdomain.Entry, error)
}

// JobStore persists asynchronous batch jobs
type JobStore interface {
	CreateJob(ctx context.Context, job *model.BatchJob) error
	GetJobByID(ctx context.Context, jobID string) (*model.BatchJob, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (*model.BatchJob, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.BatchJob, error)
	RequestStop(ctx context.Context, jobID string) (string, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Publisher hands job IDs to the worker service
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger             *slog.Logger
	Ledger             LedgerService
	Orchestrator       *batch.Orchestrator
	Registry           *batch.Registry
	Jobs               JobStore
	Publisher          Publisher
	DefaultPerItemCost int64
	DefaultMaxRetries  int

	// Readiness checks keyed by dependency name, served on /ready
	Readiness map[string]func(context.Context) error
}

// AccountHandler handles balance and ledger requests
type AccountHandler struct {
	logger *slog.Logger
	ledger LedgerService
}

// NewAccountHandler creates a new AccountHandler instance
func NewAccountHandler(deps *Dependencies) *AccountHandler {
	return &AccountHandler{
		logger: deps.Logger,
		ledger: deps.Ledger,
	}
}

// BatchHandler runs synchronous and streaming batches
type BatchHandler struct {
	logger       *slog.Logger
	orchestrator *batch.Orchestrator
	registry     *batch.Registry
	defaultCost  int64
}

// NewBatchHandler creates a new BatchHandler instance
func NewBatchHandler(deps *Dependencies) *BatchHandler {
	return &BatchHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		defaultCost:  deps.DefaultPerItemCost,
	}
}

// JobHandler handles asynchronous batch job requests
type JobHandler struct {
	logger            *slog.Logger
	ledger            LedgerService
	orchestrator      *batch.Orchestrator
	jobs              JobStore
	publisher         Publisher
	defaultCost       int64
	defaultMaxRetries int
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:            deps.Logger,
		ledger:            deps.Ledger,
		orchestrator:      deps.Orchestrator,
		jobs:              deps.Jobs,
		publisher:         deps.Publisher,
		defaultCost:       deps.DefaultPerItemCost,
		defaultMaxRetries: deps.DefaultMaxRetries,
	}
}

// respondLedgerError maps ledger errors to HTTP responses
func respondLedgerError(c *gin.Context, logger *slog.Logger, err error) {
	var insufficient *ledgerdomain.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		c.JSON(http.StatusPaymentRequired, dto.InsufficientCreditsResponse{
			Error:        "Insufficient credits",
			Required:     insufficient.Required,
			Available:    insufficient.Available,
			Deficit:      insufficient.Deficit(),
			BatchStarted: false,
		})
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
	case errors.Is(err, ledgerdomain.ErrAccountExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Account already exists"})
	case errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidKind),
		errors.Is(err, ledgerdomain.ErrBalanceOverflow):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("Ledger operation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ledger operation failed"})
	}
}
