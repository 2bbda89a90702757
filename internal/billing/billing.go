package billing

import (
	"context"
	"time"
)

// UsageLog records one resolved generation request: what was called,
// how it was classified, and how many credits were actually charged.
type UsageLog struct {
	ID             string
	AccountID      string
	RequestID      string
	Provider       string
	Model          string
	Outcome        string // success, blocked, provider_error, insufficient_credits
	InputTokens    int
	OutputTokens   int
	CreditsCharged int64 // 0 unless the outcome committed a debit
	LatencyMs      int64
	CreatedAt      time.Time
}

type Store interface {
	LogUsage(ctx context.Context, log *UsageLog) error
	GetUsageByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*UsageLog, error)
	GetCreditsChargedByAccount(ctx context.Context, accountID string, from, to time.Time) (int64, error)
}
