package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/credit-batch/internal/ledger/domain"
	"github.com/google/uuid"
)

// DefaultCacheTTL is how long a balance read stays fresh in the read cache
const DefaultCacheTTL = 5 * time.Second

// Store is the durable store contract. Apply must be atomic: re-read the
// balance under a lock, refuse to go negative, write the new balance and
// append the entry as one all-or-nothing unit.
type Store interface {
	CreateAccount(ctx context.Context, accountID string) error
	GetBalance(ctx context.Context, accountID string) (int64, error)
	Apply(ctx context.Context, entry *domain.Entry) (int64, error)
	ListEntries(ctx context.Context, accountID string, limit int) ([]domain.Entry, error)
}

// BalanceCache is a per-account read cache scoped to one Ledger instance
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (int64, bool)
	Set(ctx context.Context, accountID string, balance int64)
	Invalidate(ctx context.Context, accountID string)
}

// Config holds ledger dependencies
type Config struct {
	Logger *slog.Logger
	Store  Store
	Cache  BalanceCache
	Now    func() time.Time
}

// Ledger owns account balances and their append-only history
type Ledger struct {
	logger *slog.Logger
	store  Store
	cache  BalanceCache
	now    func() time.Time
}

// New creates a Ledger. Cache may be nil, in which case every read hits the store.
func New(cfg *Config) *Ledger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger: logger,
		store:  cfg.Store,
		cache:  cfg.Cache,
		now:    now,
	}
}

// OpenAccount creates an empty account and optionally credits an initial grant
func (l *Ledger) OpenAccount(ctx context.Context, accountID string, initialGrant int64) (*domain.Receipt, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account_id is required")
	}
	if initialGrant < 0 {
		return nil, domain.ErrInvalidAmount
	}

	if err := l.store.CreateAccount(ctx, accountID); err != nil {
		return nil, err
	}

	l.logger.Info("Account opened",
		slog.String("account_id", accountID),
		slog.Int64("initial_grant", initialGrant),
	)

	if initialGrant == 0 {
		return &domain.Receipt{NewBalance: 0}, nil
	}

	return l.Add(ctx, accountID, initialGrant, "initial grant", domain.EntryKindAdminAdjustment)
}

// GetBalance returns the cached balance when it is younger than the cache TTL,
// otherwise reloads it from the store and refreshes the cache.
func (l *Ledger) GetBalance(ctx context.Context, accountID string, forceRefresh bool) (int64, error) {
	if !forceRefresh && l.cache != nil {
		if balance, ok := l.cache.Get(ctx, accountID); ok {
			return balance, nil
		}
	}

	balance, err := l.store.GetBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}

	l.setCache(ctx, accountID, balance)
	return balance, nil
}

// Validate is a read-only affordability check. Insufficiency is reported in
// the result, not as an error.
func (l *Ledger) Validate(ctx context.Context, accountID string, amount int64) (*domain.Validation, error) {
	if amount < 0 {
		return nil, domain.ErrInvalidAmount
	}

	available, err := l.GetBalance(ctx, accountID, false)
	if err != nil {
		return nil, err
	}

	v := &domain.Validation{
		IsValid:   available >= amount,
		Required:  amount,
		Available: available,
	}
	if !v.IsValid {
		v.Deficit = amount - available
	}
	return v, nil
}

// Deduct atomically consumes amount credits. It fails with an
// *domain.InsufficientCreditsError when the freshly locked balance is short,
// regardless of any earlier Validate result.
func (l *Ledger) Deduct(ctx context.Context, accountID string, amount int64, description string, kind domain.EntryKind) (*domain.Receipt, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return l.apply(ctx, accountID, -amount, description, kind)
}

// Add atomically credits amount to the account
func (l *Ledger) Add(ctx context.Context, accountID string, amount int64, description string, kind domain.EntryKind) (*domain.Receipt, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return l.apply(ctx, accountID, amount, description, kind)
}

// History returns the most recent entries of an account, newest first
func (l *Ledger) History(ctx context.Context, accountID string, limit int) ([]domain.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.ListEntries(ctx, accountID, limit)
}

func (l *Ledger) apply(ctx context.Context, accountID string, amount int64, description string, kind domain.EntryKind) (*domain.Receipt, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}

	entry := &domain.Entry{
		EntryID:     uuid.New().String(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		CreatedAt:   l.now().UTC(),
	}

	newBalance, err := l.store.Apply(ctx, entry)

	// Never write a balance observed by Apply back into the cache: a
	// concurrent mutation may have committed after it, and the slower
	// caller would overwrite the newer value. The next read reloads.
	l.invalidateCache(ctx, accountID)

	if err != nil {
		l.logger.Warn("Ledger mutation rejected",
			slog.String("account_id", accountID),
			slog.Int64("amount", amount),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	l.logger.Info("Ledger entry appended",
		slog.String("account_id", accountID),
		slog.String("entry_id", entry.EntryID),
		slog.Int64("amount", amount),
		slog.String("kind", string(kind)),
		slog.Int64("new_balance", newBalance),
	)

	return &domain.Receipt{
		NewBalance:    newBalance,
		TransactionID: entry.EntryID,
	}, nil
}

func (l *Ledger) invalidateCache(ctx context.Context, accountID string) {
	if l.cache != nil {
		l.cache.Invalidate(ctx, accountID)
	}
}

func (l *Ledger) setCache(ctx context.Context, accountID string, balance int64) {
	if l.cache != nil {
		l.cache.Set(ctx, accountID, balance)
	}
}
