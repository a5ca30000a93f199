package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned when a mutation amount is not strictly positive
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidKind is returned for an unknown ledger entry kind
	ErrInvalidKind = errors.New("invalid ledger entry kind")

	// ErrAccountNotFound is returned when the account does not exist in the store
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when opening an account that already exists
	ErrAccountExists = errors.New("account already exists")

	// ErrBalanceOverflow is returned when a credit would push the balance past the int64 range
	ErrBalanceOverflow = errors.New("balance would overflow")

	// ErrInsufficientCredits matches any *InsufficientCreditsError via errors.Is
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// InsufficientCreditsError reports a shortfall observed either at batch pre-check
// or at the atomic deduction boundary
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// Is lets errors.Is(err, ErrInsufficientCredits) match
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Deficit returns how many credits are missing
func (e *InsufficientCreditsError) Deficit() int64 {
	if e.Required <= e.Available {
		return 0
	}
	return e.Required - e.Available
}
