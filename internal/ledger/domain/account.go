package domain

import (
	"fmt"
	"math"
	"time"
)

// EntryKind is the business reason for a balance change
type EntryKind string

// Ledger entry kinds
const (
	EntryKindConsumption     EntryKind = "CONSUMPTION"
	EntryKindAdminAdjustment EntryKind = "ADMIN_ADJUSTMENT"
	EntryKindRefund          EntryKind = "REFUND"
)

// Valid reports whether k is one of the known entry kinds
func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindConsumption, EntryKindAdminAdjustment, EntryKindRefund:
		return true
	}
	return false
}

// Account holds the spendable credit balance of a requester.
// Balance is never negative and always equals the sum of the account's entries.
type Account struct {
	AccountID string    `db:"account_id" json:"account_id"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Entry is one immutable, append-only balance change.
// Amount is signed: negative for consumption, positive for credits.
type Entry struct {
	EntryID      string    `db:"entry_id" json:"entry_id"`
	AccountID    string    `db:"account_id" json:"account_id"`
	Amount       int64     `db:"amount" json:"amount"`
	Kind         EntryKind `db:"kind" json:"kind"`
	Description  string    `db:"description" json:"description"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Validation is the result of a read-only affordability check
type Validation struct {
	IsValid   bool  `json:"is_valid"`
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
	Deficit   int64 `json:"deficit,omitempty"`
}

// Receipt is returned by every successful balance mutation
type Receipt struct {
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
}

// NextBalance applies amount to current. It refuses results below zero with an
// *InsufficientCreditsError and results past math.MaxInt64 with ErrBalanceOverflow.
func NextBalance(current, amount int64) (int64, error) {
	if amount > 0 && current > math.MaxInt64-amount {
		return 0, fmt.Errorf("%w: balance %d, amount %d", ErrBalanceOverflow, current, amount)
	}
	next := current + amount
	if next < 0 {
		return 0, &InsufficientCreditsError{
			Required:  -amount,
			Available: current,
		}
	}
	return next, nil
}
