package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	balance  int64
	storedAt time.Time
}

// Memory is an in-process balance cache. Each Ledger gets its own instance so
// tests never share state, and the clock is injectable.
type Memory struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates a memory cache with the given TTL. A nil clock defaults to time.Now.
func NewMemory(ttl time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached balance if it was stored less than ttl ago
func (m *Memory) Get(_ context.Context, accountID string) (int64, bool) {
	m.mu.RLock()
	e, ok := m.entries[accountID]
	m.mu.RUnlock()

	if !ok {
		return 0, false
	}
	if m.now().Sub(e.storedAt) >= m.ttl {
		return 0, false
	}
	return e.balance, true
}

// Set stores balance and resets the entry's timestamp
func (m *Memory) Set(_ context.Context, accountID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[accountID] = entry{balance: balance, storedAt: m.now()}
}

// Invalidate drops the cached entry
func (m *Memory) Invalidate(_ context.Context, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, accountID)
}
