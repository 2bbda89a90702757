package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrAccountNotFound = errors.New("account not found")

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) AccountStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, accountID string) (*Account, error) {
	query := `
		SELECT id, balance, low_balance_threshold, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var a Account
	err := s.db.QueryRow(ctx, query, accountID).Scan(
		&a.ID, &a.Balance, &a.LowBalanceThreshold, &a.CreatedAt, &a.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &a, nil
}

func (s *PostgresStore) Put(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, balance, low_balance_threshold)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET balance = EXCLUDED.balance,
		    low_balance_threshold = EXCLUDED.low_balance_threshold,
		    updated_at = now()
	`

	_, err := s.db.Exec(ctx, query, account.ID, account.Balance, account.LowBalanceThreshold)
	if err != nil {
		return fmt.Errorf("failed to put account: %w", err)
	}

	return nil
}
