package storage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cuongbtq/credit-batch/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateAccount_UsesClock(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("ICT", 7*3600))
	m := NewMemory(WithClock(func() time.Time { return at }))

	require.NoError(t, m.CreateAccount(ctx, "acc-1"))
	assert.ErrorIs(t, m.CreateAccount(ctx, "acc-1"), domain.ErrAccountExists)

	account := m.accounts["acc-1"]
	require.NotNil(t, account)
	assert.Equal(t, at.UTC(), account.CreatedAt)
	assert.Equal(t, time.UTC, account.CreatedAt.Location())
	assert.Equal(t, account.CreatedAt, account.UpdatedAt)
}

func TestMemory_Apply(t *testing.T) {
	tests := []struct {
		name        string
		start       int64
		amount      int64
		wantBalance int64
		wantErr     error
	}{
		{name: "credit", start: 10, amount: 5, wantBalance: 15},
		{name: "debit to zero", start: 10, amount: -10, wantBalance: 0},
		{name: "debit past zero", start: 10, amount: -11, wantErr: domain.ErrInsufficientCredits},
		{name: "credit up to max", start: math.MaxInt64 - 1, amount: 1, wantBalance: math.MaxInt64},
		{name: "credit past max", start: math.MaxInt64 - 1, amount: 2, wantErr: domain.ErrBalanceOverflow},
		{name: "huge credit", start: 10, amount: math.MaxInt64, wantErr: domain.ErrBalanceOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMemory()
			require.NoError(t, m.CreateAccount(ctx, "acc-1"))
			m.accounts["acc-1"].Balance = tt.start

			_, err := m.Apply(ctx, &domain.Entry{
				AccountID: "acc-1",
				Amount:    tt.amount,
				Kind:      domain.EntryKindAdminAdjustment,
			})
			balance, getErr := m.GetBalance(ctx, "acc-1")
			require.NoError(t, getErr)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.start, balance)
				assert.Empty(t, m.entries["acc-1"])
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBalance, balance)
			require.Len(t, m.entries["acc-1"], 1)
			assert.Equal(t, tt.wantBalance, m.entries["acc-1"][0].BalanceAfter)
		})
	}
}

func TestMemory_Apply_UnknownAccount(t *testing.T) {
	_, err := NewMemory().Apply(context.Background(), &domain.Entry{AccountID: "missing", Amount: 1})
	assert.True(t, errors.Is(err, domain.ErrAccountNotFound))
}
