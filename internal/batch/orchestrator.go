package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/credit-batch/internal/batch/domain"
	"github.com/cuongbtq/credit-batch/internal/classifier"
	ledgerdomain "github.com/cuongbtq/credit-batch/internal/ledger/domain"
)

const (
	// DefaultMaxBatchSize caps the number of items in one batch
	DefaultMaxBatchSize = 10

	// DefaultConcurrency is the window size when a request does not set one
	DefaultConcurrency = 5
)

// Ledger is the subset of the balance ledger a batch needs
type Ledger interface {
	Validate(ctx context.Context, accountID string, amount int64) (*ledgerdomain.Validation, error)
	Deduct(ctx context.Context, accountID string, amount int64, description string, kind ledgerdomain.EntryKind) (*ledgerdomain.Receipt, error)
	GetBalance(ctx context.Context, accountID string, forceRefresh bool) (int64, error)
}

// Invoker runs one timeout-bounded provider call
type Invoker interface {
	Invoke(ctx context.Context, req classifier.Request) (*classifier.Output, error)
}

// Config holds orchestrator dependencies and limits
type Config struct {
	Logger             *slog.Logger
	Ledger             Ledger
	Invoker            Invoker
	MaxBatchSize       int
	DefaultConcurrency int
	Limits             Limits
	Now                func() time.Time
}

// Orchestrator creates batch jobs bound to one ledger and one invoker
type Orchestrator struct {
	logger             *slog.Logger
	ledger             Ledger
	invoker            Invoker
	maxBatchSize       int
	defaultConcurrency int
	limits             Limits
	now                func() time.Time
}

// NewOrchestrator creates an orchestrator, filling unset limits with defaults
func NewOrchestrator(cfg *Config) *Orchestrator {
	o := &Orchestrator{
		logger:             cfg.Logger,
		ledger:             cfg.Ledger,
		invoker:            cfg.Invoker,
		maxBatchSize:       cfg.MaxBatchSize,
		defaultConcurrency: cfg.DefaultConcurrency,
		limits:             cfg.Limits,
		now:                cfg.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxBatchSize <= 0 {
		o.maxBatchSize = DefaultMaxBatchSize
	}
	if o.defaultConcurrency <= 0 {
		o.defaultConcurrency = DefaultConcurrency
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// MaxBatchSize returns the configured item cap
func (o *Orchestrator) MaxBatchSize() int {
	return o.maxBatchSize
}

// Validate rejects submissions that can never run
func (o *Orchestrator) Validate(sub *domain.Submission) error {
	if sub == nil {
		return fmt.Errorf("%w: submission is required", domain.ErrInvalidBatch)
	}
	if err := validateSubmission(sub, o.maxBatchSize); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidBatch, err)
	}
	return nil
}

// NewJob validates the submission and returns an idle job ready to Run
func (o *Orchestrator) NewJob(sub *domain.Submission) (*Job, error) {
	if err := o.Validate(sub); err != nil {
		return nil, err
	}

	items := make([]domain.WorkItem, len(sub.Items))
	copy(items, sub.Items)
	for i := range items {
		items[i].Index = i
		items[i].Status = domain.ItemStatusPending
	}

	limit := sub.ConcurrencyLimit
	if limit <= 0 {
		limit = o.defaultConcurrency
	}

	return &Job{
		id:          uuid.New().String(),
		o:           o,
		accountID:   sub.AccountID,
		items:       items,
		perItemCost: sub.PerItemCost,
		limit:       limit,
		description: sub.Description,
		state:       domain.StateIdle,
		logger:      o.logger,
	}, nil
}

// Job is one batch run. It can be run once; Stop is safe to call from any goroutine.
type Job struct {
	id          string
	o           *Orchestrator
	accountID   string
	items       []domain.WorkItem
	perItemCost int64
	limit       int
	description string
	logger      *slog.Logger

	stopRequested atomic.Bool

	mu      sync.Mutex
	state   domain.State
	started bool
}

// ID returns the batch ID
func (j *Job) ID() string {
	return j.id
}

// State returns the current lifecycle state
func (j *Job) State() domain.State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Stop asks the job to not start any further window. The window in flight
// is always completed.
func (j *Job) Stop() {
	if j.stopRequested.CompareAndSwap(false, true) {
		j.logger.Info("Batch stop requested",
			slog.String("batch_id", j.id),
		)
	}
}

// StopRequested reports whether Stop has been called
func (j *Job) StopRequested() bool {
	return j.stopRequested.Load()
}

func (j *Job) setState(s domain.State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Run pre-checks affordability, processes items window by window, settles
// the successes with a single deduction and returns the per-item results.
// onProgress, if set, is called after every window on the Run goroutine.
func (j *Job) Run(ctx context.Context, onProgress func(domain.Progress)) (*domain.Result, error) {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return nil, domain.ErrAlreadyStarted
	}
	j.started = true
	j.mu.Unlock()

	total := len(j.items)
	required := int64(total) * j.perItemCost

	v, err := j.o.ledger.Validate(ctx, j.accountID, required)
	if err != nil {
		j.setState(domain.StateFailed)
		return nil, fmt.Errorf("failed to validate balance: %w", err)
	}
	if !v.IsValid {
		j.setState(domain.StateFailed)
		j.logger.Warn("Batch rejected, insufficient credits",
			slog.String("batch_id", j.id),
			slog.String("account_id", j.accountID),
			slog.Int64("required", v.Required),
			slog.Int64("available", v.Available),
		)
		return nil, &ledgerdomain.InsufficientCreditsError{Required: v.Required, Available: v.Available}
	}

	j.setState(domain.StateRunning)
	j.logger.Info("Batch started",
		slog.String("batch_id", j.id),
		slog.String("account_id", j.accountID),
		slog.Int("items", total),
		slog.Int("concurrency", j.limit),
	)

	start := j.o.now()
	agg := NewAggregator(total)
	stoppedEarly := false

	for lo := 0; lo < total; lo += j.limit {
		if j.stopRequested.Load() || ctx.Err() != nil {
			stoppedEarly = true
			break
		}

		hi := min(lo+j.limit, total)
		var g errgroup.Group
		for i := lo; i < hi; i++ {
			item := &j.items[i]
			g.Go(func() error {
				return agg.Record(j.process(ctx, item))
			})
		}
		if err := g.Wait(); err != nil {
			j.logger.Error("Failed to record item result",
				slog.String("batch_id", j.id),
				slog.String("error", err.Error()),
			)
		}

		if onProgress != nil {
			onProgress(agg.Progress(j.id, j.o.now().Sub(start)))
		}
	}

	summary := agg.Summary(stoppedEarly)
	result := &domain.Result{
		BatchID: j.id,
		Results: agg.Results(),
	}

	// settle even if the caller went away, the work is already done
	j.settle(context.WithoutCancel(ctx), &summary, result)

	result.Summary = summary
	result.Duration = j.o.now().Sub(start)
	if stoppedEarly {
		result.State = domain.StateStopped
	} else {
		result.State = domain.StateCompleted
	}
	j.setState(result.State)

	j.logger.Info("Batch finished",
		slog.String("batch_id", j.id),
		slog.String("state", string(result.State)),
		slog.Int("successful", summary.Successful),
		slog.Int("failed", summary.Failed),
		slog.Int64("credits_used", summary.CreditsUsed),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

func (j *Job) process(ctx context.Context, item *domain.WorkItem) domain.ItemResult {
	item.Status = domain.ItemStatusProcessing
	res := domain.ItemResult{
		Index:    item.Index,
		Filename: item.Filename,
	}

	if err := j.o.limits.ValidateItem(item); err != nil {
		item.Status = domain.ItemStatusFailed
		res.Error = &domain.ItemError{Kind: domain.ErrorKindValidation, Message: err.Error()}
		return res
	}

	out, err := j.o.invoker.Invoke(ctx, classifier.Request{
		Payload:   item.Payload,
		MediaType: item.MediaType,
	})
	if err != nil {
		pe := classifier.Classify(err)
		item.Status = domain.ItemStatusFailed
		res.Error = &domain.ItemError{Kind: string(pe.Kind), Message: pe.Error()}
		j.logger.Debug("Item failed",
			slog.String("batch_id", j.id),
			slog.Int("index", item.Index),
			slog.String("kind", string(pe.Kind)),
		)
		return res
	}

	item.Status = domain.ItemStatusCompleted
	res.Success = true
	res.Output = out
	return res
}

func (j *Job) settle(ctx context.Context, summary *domain.Summary, result *domain.Result) {
	amount := int64(summary.Successful) * j.perItemCost
	if amount == 0 {
		if balance, err := j.o.ledger.GetBalance(ctx, j.accountID, false); err == nil {
			summary.RemainingBalance = balance
		}
		return
	}

	description := j.description
	if description == "" {
		description = fmt.Sprintf("batch %s: %d of %d items classified", j.id, summary.Successful, summary.Total)
	}

	receipt, err := j.o.ledger.Deduct(ctx, j.accountID, amount, description, ledgerdomain.EntryKindConsumption)
	if err != nil {
		serr := &domain.SettlementError{Amount: amount, Err: err}
		summary.CreditsOutstanding = amount
		summary.SettlementError = serr.Error()
		result.SettlementErr = serr

		j.logger.Error("Batch settlement failed",
			slog.String("batch_id", j.id),
			slog.String("account_id", j.accountID),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)

		if balance, err := j.o.ledger.GetBalance(ctx, j.accountID, true); err == nil {
			summary.RemainingBalance = balance
		}
		return
	}

	summary.CreditsUsed = amount
	summary.RemainingBalance = receipt.NewBalance
	summary.TransactionID = receipt.TransactionID
}
