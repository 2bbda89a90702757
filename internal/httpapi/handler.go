package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/vibelearn/gengate/internal/auth"
	"github.com/vibelearn/gengate/internal/billing"
	"github.com/vibelearn/gengate/internal/conversation"
	"github.com/vibelearn/gengate/internal/gateway"
	"github.com/vibelearn/gengate/internal/ledger"
	"github.com/vibelearn/gengate/internal/notify"
	"github.com/vibelearn/gengate/pkg/ratelimit"
)

type Handler struct {
	gateway *gateway.Gateway
	ledger  *ledger.Ledger
	usage   billing.Store
	limiter *ratelimit.Limiter
	events  *notify.Broadcaster
}

func NewHandler(gw *gateway.Gateway, l *ledger.Ledger, usage billing.Store, limiter *ratelimit.Limiter, events *notify.Broadcaster) *Handler {
	return &Handler{
		gateway: gw,
		ledger:  l,
		usage:   usage,
		limiter: limiter,
		events:  events,
	}
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := auth.GetAccountID(ctx)
	if accountID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	allowed, err := h.limiter.Allow(ctx, accountID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	var req gateway.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.RequestID = auth.GetRequestID(ctx)

	outcome, err := h.gateway.Submit(ctx, accountID, &req)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidRequest) || errors.Is(err, conversation.ErrInvalidHistory) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		log.Printf("httpapi: submit failed for account %s: %v", accountID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	switch outcome.Kind {
	case gateway.OutcomeSuccess:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"text":    outcome.Text,
			"balance": outcome.Balance,
		})
	case gateway.OutcomeInsufficientCredits:
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"error":  "insufficient credits",
			"action": "top up your balance to keep generating",
		})
	case gateway.OutcomeBlocked:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":    "content blocked by safety policy",
			"category": outcome.BlockCategory,
		})
	case gateway.OutcomeProviderError:
		// Detail stays in the logs; end users get a generic message.
		log.Printf("httpapi: provider error for account %s: %s", accountID, outcome.Detail)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "generation is temporarily unavailable",
		})
	default:
		log.Printf("httpapi: unknown outcome kind %q", outcome.Kind)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := auth.GetAccountID(ctx)
	if accountID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	balance, err := h.ledger.BalanceOf(ctx, accountID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"balance":    balance,
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := auth.GetAccountID(ctx)
	if accountID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	// Parse query parameters
	now := time.Now()
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}

	if toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	logs, err := h.usage.GetUsageByAccount(ctx, accountID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	charged, err := h.usage.GetCreditsChargedByAccount(ctx, accountID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":      accountID,
		"total_requests":  len(logs),
		"credits_charged": charged,
		"logs":            logs,
		"from":            from,
		"to":              to,
	})
}

// HandleEvents streams gateway notifications (low balance, blocks,
// provider errors) for the caller's account as server-sent events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := auth.GetAccountID(ctx)
	if accountID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, unsubscribe := h.events.Subscribe(accountID)
	defer unsubscribe()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
