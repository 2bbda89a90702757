package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vibelearn/gengate/internal/auth"
	"github.com/vibelearn/gengate/internal/billing"
	"github.com/vibelearn/gengate/internal/gateway"
	"github.com/vibelearn/gengate/internal/ledger"
	"github.com/vibelearn/gengate/internal/notify"
	"github.com/vibelearn/gengate/internal/provider"
	"github.com/vibelearn/gengate/internal/safety"
	"github.com/vibelearn/gengate/pkg/ratelimit"
)

// Mock Provider
type mockProvider struct {
	generateFunc func(ctx context.Context, spec *provider.CallSpec) (*provider.Result, error)
}

func (m *mockProvider) Generate(ctx context.Context, spec *provider.CallSpec) (*provider.Result, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, spec)
	}
	return &provider.Result{Text: "generated"}, nil
}

func (m *mockProvider) Name() string { return "mock" }

// Mock Account Store
type mockAccountStore struct {
	balance int64
}

func (m *mockAccountStore) Get(ctx context.Context, accountID string) (*ledger.Account, error) {
	return &ledger.Account{ID: accountID, Balance: m.balance, LowBalanceThreshold: 5}, nil
}

func (m *mockAccountStore) Put(ctx context.Context, account *ledger.Account) error { return nil }

// Mock Usage Store
type mockUsageStore struct {
	logs []*billing.UsageLog
}

func (m *mockUsageStore) LogUsage(ctx context.Context, log *billing.UsageLog) error { return nil }

func (m *mockUsageStore) GetUsageByAccount(ctx context.Context, accountID string, from, to time.Time) ([]*billing.UsageLog, error) {
	return m.logs, nil
}

func (m *mockUsageStore) GetCreditsChargedByAccount(ctx context.Context, accountID string, from, to time.Time) (int64, error) {
	var total int64
	for _, l := range m.logs {
		total += l.CreditsCharged
	}
	return total, nil
}

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

// Test Suite
func setupTest(p *mockProvider, balance int64, limiterAllowed bool) *Handler {
	l := ledger.New(&mockAccountStore{balance: balance}, balance, 5)
	events := notify.NewBroadcaster()
	usage := &mockUsageStore{}
	tracer := noop.NewTracerProvider().Tracer("test")
	router := gateway.NewModelRouter("text-model", "multimodal-model")
	gw := gateway.New(p, l, router, safety.Default(), events, nil, tracer, 6, time.Second)
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})

	return NewHandler(gw, l, usage, limiter, events)
}

func generateRequest(t *testing.T, body interface{}, accountID string) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", "/v1/generate", bytes.NewReader(data))
	if accountID != "" {
		req = req.WithContext(auth.WithAccountID(req.Context(), accountID))
	}
	return req
}

func TestHandleGenerate_Unauthorized(t *testing.T) {
	h := setupTest(&mockProvider{}, 10, true)
	req := httptest.NewRequest("POST", "/v1/generate", nil)
	w := httptest.NewRecorder()

	h.HandleGenerate(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleGenerate_RateLimited(t *testing.T) {
	h := setupTest(&mockProvider{}, 10, false)
	req := generateRequest(t, map[string]string{"prompt": "hi"}, "acct-1")
	w := httptest.NewRecorder()

	h.HandleGenerate(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60s" {
		t.Errorf("Expected Retry-After: 60s header, got %s", w.Header().Get("Retry-After"))
	}
}

func TestHandleGenerate_InvalidBody(t *testing.T) {
	h := setupTest(&mockProvider{}, 10, true)
	req := httptest.NewRequest("POST", "/v1/generate", strings.NewReader(`{invalid json}`))
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleGenerate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleGenerate_InvalidRequest(t *testing.T) {
	h := setupTest(&mockProvider{}, 10, true)
	req := generateRequest(t, map[string]interface{}{"prompt": "hi", "temperature": 9.0}, "acct-1")
	w := httptest.NewRecorder()

	h.HandleGenerate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleGenerate_Success(t *testing.T) {
	h := setupTest(&mockProvider{}, 10, true)
	req := generateRequest(t, map[string]string{"prompt": "hi"}, "acct-1")
	w := httptest.NewRecorder()

	h.HandleGenerate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["text"] != "generated" {
		t.Errorf("Expected generated text, got %v", resp["text"])
	}
	if resp["balance"].(float64) != 4 {
		t.Errorf("Expected balance 4, got %v", resp["balance"])
	}
}

func TestHandleGenerate_InsufficientCredits(t *testing.T) {
	h := setupTest(&mockProvider{}, 3, true)
	req := generateRequest(t, map[string]string{"prompt": "hi"}, "acct-1")
	w := httptest.NewRecorder()

	h.HandleGenerate(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["action"] == "" {
		t.Error("Expected a call-to-action in the response")
	}
}

func TestHandleGenerate_Blocked(t *testing.T) {
	p := &mockProvider{generateFunc: func(ctx context.Context, spec *provider.CallSpec) (*provider.Result, error) {
		return &provider.Result{Blocked: true, BlockCategory: "HARM_CATEGORY_HARASSMENT"}, nil
	}}
	h := setupTest(p, 10, true)
	req := generateRequest(t, map[string]string{"prompt": "hi"}, "acct-1")
	w := httptest.NewRecorder()

	h.HandleGenerate(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["category"] != "HARM_CATEGORY_HARASSMENT" {
		t.Errorf("Expected block category in response, got %v", resp["category"])
	}
}

func TestHandleGenerate_ProviderError(t *testing.T) {
	p := &mockProvider{generateFunc: func(ctx context.Context, spec *provider.CallSpec) (*provider.Result, error) {
		return nil, errors.New("secret upstream detail")
	}}
	h := setupTest(p, 10, true)
	req := generateRequest(t, map[string]string{"prompt": "hi"}, "acct-1")
	w := httptest.NewRecorder()

	h.HandleGenerate(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret upstream detail") {
		t.Error("Provider detail must not leak to end users")
	}
}

func TestHandleBalance(t *testing.T) {
	h := setupTest(&mockProvider{}, 42, true)
	req := httptest.NewRequest("GET", "/v1/balance", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleBalance(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["balance"].(float64) != 42 {
		t.Errorf("Expected balance 42, got %v", resp["balance"])
	}
}

func TestHandleUsage_InvalidDates(t *testing.T) {
	h := setupTest(&mockProvider{}, 10, true)
	req := httptest.NewRequest("GET", "/v1/usage?from=yesterday", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleUsage(t *testing.T) {
	h := setupTest(&mockProvider{}, 10, true)
	h.usage = &mockUsageStore{logs: []*billing.UsageLog{
		{AccountID: "acct-1", Outcome: "success", CreditsCharged: 6},
		{AccountID: "acct-1", Outcome: "blocked", CreditsCharged: 0},
	}}

	req := httptest.NewRequest("GET", "/v1/usage", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["total_requests"].(float64) != 2 {
		t.Errorf("Expected 2 requests, got %v", resp["total_requests"])
	}
	if resp["credits_charged"].(float64) != 6 {
		t.Errorf("Expected 6 credits charged, got %v", resp["credits_charged"])
	}
}
