package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/credit-batch/internal/ledger/domain"
	"github.com/cuongbtq/credit-batch/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys
const uniqueViolation = "23505"

// Postgres stores accounts and ledger entries in PostgreSQL
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a new Postgres ledger store
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger,
	}
}

// CreateAccount inserts an account row with a zero balance
func (s *Postgres) CreateAccount(ctx context.Context, accountID string) error {
	query := `
		INSERT INTO accounts (account_id, balance, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
	`

	if _, err := s.db.ExecContext(ctx, query, accountID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetBalance reads the committed balance
func (s *Postgres) GetBalance(ctx context.Context, accountID string) (int64, error) {
	query := `SELECT balance FROM accounts WHERE account_id = $1`

	var balance int64
	if err := s.db.GetContext(ctx, &balance, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Apply locks the account row, checks the balance, updates it and appends the
// entry inside one transaction. Concurrent callers block on the row lock, so
// each one sees the balance left by the previous commit.
func (s *Postgres) Apply(ctx context.Context, entry *domain.Entry) (int64, error) {
	var newBalance int64
	err := postgresql.RunInTx(ctx, s.db, s.logger, func(tx *sqlx.Tx) error {
		var current int64
		err := tx.GetContext(ctx, &current, `SELECT balance FROM accounts WHERE account_id = $1 FOR UPDATE`, entry.AccountID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrAccountNotFound
			}
			return fmt.Errorf("failed to lock account: %w", err)
		}

		newBalance, err = domain.NextBalance(current, entry.Amount)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE account_id = $2`,
			newBalance, entry.AccountID,
		)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		entry.BalanceAfter = newBalance
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (
				entry_id, account_id, amount, kind,
				description, balance_after, created_at
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7
			)`,
			entry.EntryID,
			entry.AccountID,
			entry.Amount,
			string(entry.Kind),
			entry.Description,
			entry.BalanceAfter,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// ListEntries returns up to limit entries, newest first
func (s *Postgres) ListEntries(ctx context.Context, accountID string, limit int) ([]domain.Entry, error) {
	if _, err := s.GetBalance(ctx, accountID); err != nil {
		return nil, err
	}

	query := `
		SELECT entry_id, account_id, amount, kind, description, balance_after, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, entry_id DESC
		LIMIT $2
	`

	var entries []domain.Entry
	if err := s.db.SelectContext(ctx, &entries, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
