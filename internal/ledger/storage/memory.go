package storage

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/credit-batch/internal/ledger/domain"
)

// Memory is an in-process ledger store. A single mutex is the atomic
// boundary, so concurrent Apply calls are serialized in arrival order.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	accounts map[string]*domain.Account
	entries  map[string][]domain.Entry
}

// MemoryOption configures a Memory store
type MemoryOption func(*Memory)

// WithClock sets the clock used to stamp new accounts
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty memory store
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:      time.Now,
		accounts: make(map[string]*domain.Account),
		entries:  make(map[string][]domain.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAccount opens an account with a zero balance
func (m *Memory) CreateAccount(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[accountID]; ok {
		return domain.ErrAccountExists
	}

	now := m.now().UTC()
	m.accounts[accountID] = &domain.Account{
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// GetBalance returns the current balance
func (m *Memory) GetBalance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return account.Balance, nil
}

// Apply mutates the balance and appends the entry under one lock
func (m *Memory) Apply(_ context.Context, entry *domain.Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[entry.AccountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}

	newBalance, err := domain.NextBalance(account.Balance, entry.Amount)
	if err != nil {
		return 0, err
	}

	account.Balance = newBalance
	account.UpdatedAt = entry.CreatedAt
	entry.BalanceAfter = newBalance
	m.entries[entry.AccountID] = append(m.entries[entry.AccountID], *entry)

	return newBalance, nil
}

// ListEntries returns up to limit entries, newest first
func (m *Memory) ListEntries(_ context.Context, accountID string, limit int) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}

	all := m.entries[accountID]
	out := make([]domain.Entry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
