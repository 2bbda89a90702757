package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LogUsage(ctx context.Context, log *UsageLog) error {
	query := `
		INSERT INTO usage_logs (account_id, request_id, provider, model, outcome, input_tokens, output_tokens, credits_charged, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		log.AccountID, log.RequestID, log.Provider, log.Model, log.Outcome,
		log.InputTokens, log.OutputTokens, log.CreditsCharged, log.LatencyMs,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetUsageByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*UsageLog, error) {
	query := `
		SELECT id, account_id, request_id, provider, model, outcome, input_tokens, output_tokens, credits_charged, latency_ms, created_at
		FROM usage_logs
		WHERE account_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*UsageLog
	for rows.Next() {
		var l UsageLog
		err := rows.Scan(
			&l.ID, &l.AccountID, &l.RequestID, &l.Provider, &l.Model, &l.Outcome,
			&l.InputTokens, &l.OutputTokens, &l.CreditsCharged, &l.LatencyMs, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage logs: %w", err)
	}

	return logs, nil
}

func (s *PostgresStore) GetCreditsChargedByAccount(ctx context.Context, accountID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(credits_charged), 0)
		FROM usage_logs
		WHERE account_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total int64
	err := s.db.QueryRow(ctx, query, accountID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get credits charged: %w", err)
	}

	return total, nil
}
