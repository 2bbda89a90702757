package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vibelearn/gengate/internal/billing"
	"github.com/vibelearn/gengate/internal/conversation"
	"github.com/vibelearn/gengate/internal/ledger"
	"github.com/vibelearn/gengate/internal/notify"
	"github.com/vibelearn/gengate/internal/provider"
	"github.com/vibelearn/gengate/internal/safety"
)

var ErrInvalidRequest = errors.New("invalid request")

// Generation parameter bounds. Zero means "provider default".
const (
	maxTemperature     = 2.0
	maxTopP            = 1.0
	maxTopK            = 100
	maxMaxOutputTokens = 8192
)

// Request is one caller-facing generation request.
type Request struct {
	Prompt          string              `json:"prompt"`
	Payload         []byte              `json:"payload,omitempty"` // inline binary, e.g. an image
	PayloadMimeType string              `json:"payload_mime_type,omitempty"`
	History         []conversation.Turn `json:"history,omitempty"`
	Temperature     float64             `json:"temperature,omitempty"`
	TopP            float64             `json:"top_p,omitempty"`
	TopK            int                 `json:"top_k,omitempty"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	RequestID       string              `json:"-"`
}

type OutcomeKind string

const (
	OutcomeSuccess             OutcomeKind = "success"
	OutcomeBlocked             OutcomeKind = "blocked"
	OutcomeProviderError       OutcomeKind = "provider_error"
	OutcomeInsufficientCredits OutcomeKind = "insufficient_credits"
)

// Outcome is the tagged result of Submit. Exactly one variant's fields
// are populated: Text for Success, BlockCategory for Blocked, Detail
// for ProviderError; InsufficientCredits carries nothing.
type Outcome struct {
	Kind          OutcomeKind
	Text          string
	BlockCategory string
	Detail        string // internal detail, not for end users
	Balance       int64  // committed balance after a Success
}

// Gateway orchestrates one generation call: admission against the
// credit ledger, call construction, the single provider attempt, and
// outcome classification.
type Gateway struct {
	provider provider.Provider
	ledger   *ledger.Ledger
	router   *ModelRouter
	policy   *safety.Policy
	events   *notify.Broadcaster
	usage    billing.Store
	tracer   trace.Tracer
	breaker  *gobreaker.CircuitBreaker

	costPerCall int64
	timeout     time.Duration
}

func New(p provider.Provider, l *ledger.Ledger, router *ModelRouter, policy *safety.Policy,
	events *notify.Broadcaster, usage billing.Store, tracer trace.Tracer,
	costPerCall int64, timeout time.Duration) *Gateway {

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Gateway{
		provider:    p,
		ledger:      l,
		router:      router,
		policy:      policy,
		events:      events,
		usage:       usage,
		tracer:      tracer,
		breaker:     breaker,
		costPerCall: costPerCall,
		timeout:     timeout,
	}
}

// Submit runs one request end to end and classifies the result. Credits
// are committed only for content actually delivered; every other path
// rolls the reservation back. Validation and history errors are
// returned as errors (caller bugs); everything else is an Outcome.
func (g *Gateway) Submit(ctx context.Context, accountID string, req *Request) (*Outcome, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("account_id", accountID),
		attribute.String("request_id", req.RequestID),
	)

	if err := validate(req); err != nil {
		return nil, err
	}

	res, err := g.ledger.Reserve(ctx, accountID, g.costPerCall)
	if errors.Is(err, ledger.ErrInsufficientCredits) {
		g.logUsage(accountID, req, "", nil, OutcomeInsufficientCredits, 0)
		return &Outcome{Kind: OutcomeInsufficientCredits}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve credits: %w", err)
	}

	spec, err := g.buildCall(accountID, req)
	if err != nil {
		g.rollback(ctx, res)
		return nil, err
	}
	span.SetAttributes(attribute.String("model", spec.Model))

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.breaker.Execute(func() (interface{}, error) {
		return g.provider.Generate(callCtx, spec)
	})
	if err != nil {
		// Timeouts land here too: an indeterminate call is never
		// charged for.
		g.rollback(ctx, res)
		g.events.Publish(notify.Event{AccountID: accountID, Kind: notify.KindProviderError})
		g.logUsage(accountID, req, spec.Model, nil, OutcomeProviderError, 0)
		return &Outcome{Kind: OutcomeProviderError, Detail: err.Error()}, nil
	}
	result := raw.(*provider.Result)

	if result.Blocked {
		g.rollback(ctx, res)
		g.events.Publish(notify.Event{AccountID: accountID, Kind: notify.KindBlocked, Detail: result.BlockCategory})
		g.logUsage(accountID, req, spec.Model, result, OutcomeBlocked, 0)
		return &Outcome{Kind: OutcomeBlocked, BlockCategory: result.BlockCategory}, nil
	}

	balance, low, err := g.ledger.Commit(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	if low {
		g.events.Publish(notify.Event{AccountID: accountID, Kind: notify.KindLowBalance, Balance: balance})
	}
	g.logUsage(accountID, req, spec.Model, result, OutcomeSuccess, g.costPerCall)

	return &Outcome{Kind: OutcomeSuccess, Text: result.Text, Balance: balance}, nil
}

func (g *Gateway) buildCall(accountID string, req *Request) (*provider.CallSpec, error) {
	contents, err := conversation.Adapt(req.History)
	if err != nil {
		return nil, err
	}

	var parts []provider.Part
	if req.Prompt != "" {
		parts = append(parts, provider.Part{Text: req.Prompt})
	}
	if len(req.Payload) > 0 {
		parts = append(parts, provider.Part{Data: req.Payload, MimeType: req.PayloadMimeType})
	}
	contents = append(contents, provider.Content{Role: provider.RoleUser, Parts: parts})

	spec := &provider.CallSpec{
		Model:    g.router.Select(req),
		Contents: contents,
		GenerationConfig: provider.GenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			MaxOutputTokens: req.MaxOutputTokens,
		},
		AccountID: accountID,
		RequestID: req.RequestID,
	}
	return g.policy.Attach(spec), nil
}

func (g *Gateway) rollback(ctx context.Context, res *ledger.Reservation) {
	if err := g.ledger.Rollback(ctx, res); err != nil {
		// Only reachable if the reservation was resolved twice, which
		// Submit's single resolution path rules out.
		log.Printf("gateway: rollback of reservation %s failed: %v", res.ID, err)
	}
}

func (g *Gateway) logUsage(accountID string, req *Request, model string, result *provider.Result, kind OutcomeKind, charged int64) {
	if g.usage == nil {
		return
	}
	entry := &billing.UsageLog{
		AccountID:      accountID,
		RequestID:      req.RequestID,
		Provider:       g.provider.Name(),
		Model:          model,
		Outcome:        string(kind),
		CreditsCharged: charged,
	}
	if result != nil {
		entry.InputTokens = result.InputTokens
		entry.OutputTokens = result.OutputTokens
		entry.LatencyMs = result.LatencyMs
	}
	go func() {
		_ = g.usage.LogUsage(context.Background(), entry)
	}()
}

func validate(req *Request) error {
	if req.Prompt == "" && len(req.Payload) == 0 {
		return fmt.Errorf("%w: prompt or payload is required", ErrInvalidRequest)
	}
	if len(req.Payload) > 0 && req.PayloadMimeType == "" {
		return fmt.Errorf("%w: payload requires a mime type", ErrInvalidRequest)
	}
	if req.Temperature < 0 || req.Temperature > maxTemperature {
		return fmt.Errorf("%w: temperature must be in [0, %g]", ErrInvalidRequest, maxTemperature)
	}
	if req.TopP < 0 || req.TopP > maxTopP {
		return fmt.Errorf("%w: top_p must be in [0, %g]", ErrInvalidRequest, maxTopP)
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		return fmt.Errorf("%w: top_k must be in [0, %d]", ErrInvalidRequest, maxTopK)
	}
	if req.MaxOutputTokens < 0 || req.MaxOutputTokens > maxMaxOutputTokens {
		return fmt.Errorf("%w: max_output_tokens must be in [0, %d]", ErrInvalidRequest, maxMaxOutputTokens)
	}
	return nil
}
