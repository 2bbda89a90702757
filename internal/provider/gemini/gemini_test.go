package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibelearn/gengate/internal/provider"
)

func testProvider(serverURL string) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  "test-key",
		baseURL: serverURL,
		client:  http.DefaultClient,
	}
}

func TestGenerate_Mock(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content:      geminiContent{Parts: []geminiPart{{Text: "Hello from mock!"}}},
					FinishReason: "STOP",
				},
			},
			UsageMetadata: geminiUsageMetadata{
				PromptTokenCount:     10,
				CandidatesTokenCount: 20,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := testProvider(server.URL)

	spec := &provider.CallSpec{
		Model: "gemini-2.0-flash",
		Contents: []provider.Content{
			{Role: provider.RoleUser, Parts: []provider.Part{{Text: "hi"}}},
		},
		SafetySettings: []provider.SafetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		},
	}

	result, err := p.Generate(context.Background(), spec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if result.Blocked {
		t.Error("Expected result not to be blocked")
	}
	if result.Text != "Hello from mock!" {
		t.Errorf("Expected 'Hello from mock!', got %s", result.Text)
	}
	if result.InputTokens != 10 {
		t.Errorf("Expected 10 input tokens, got %d", result.InputTokens)
	}
	if result.OutputTokens != 20 {
		t.Errorf("Expected 20 output tokens, got %d", result.OutputTokens)
	}

	if len(captured.SafetySettings) != 1 {
		t.Fatalf("Expected 1 safety setting on the wire, got %d", len(captured.SafetySettings))
	}
	if captured.SafetySettings[0].Category != "HARM_CATEGORY_HARASSMENT" {
		t.Errorf("Unexpected safety category: %s", captured.SafetySettings[0].Category)
	}
}

func TestGenerate_PromptBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{
			PromptFeedback: &promptFeedback{
				BlockReason: "SAFETY",
				SafetyRatings: []safetyRating{
					{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Probability: "HIGH"},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := testProvider(server.URL)

	result, err := p.Generate(context.Background(), &provider.CallSpec{
		Model: "gemini-2.0-flash",
		Contents: []provider.Content{
			{Role: provider.RoleUser, Parts: []provider.Part{{Text: "something awful"}}},
		},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !result.Blocked {
		t.Fatal("Expected result to be blocked")
	}
	if result.BlockCategory != "HARM_CATEGORY_DANGEROUS_CONTENT" {
		t.Errorf("Unexpected block category: %s", result.BlockCategory)
	}
}

func TestGenerate_CandidateBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					FinishReason: "SAFETY",
					SafetyRatings: []safetyRating{
						{Category: "HARM_CATEGORY_HATE_SPEECH", Probability: "LOW"},
						{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Probability: "MEDIUM"},
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := testProvider(server.URL)

	result, err := p.Generate(context.Background(), &provider.CallSpec{
		Model: "gemini-2.0-flash",
		Contents: []provider.Content{
			{Role: provider.RoleUser, Parts: []provider.Part{{Text: "hi"}}},
		},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !result.Blocked {
		t.Fatal("Expected result to be blocked")
	}
	if result.BlockCategory != "HARM_CATEGORY_SEXUALLY_EXPLICIT" {
		t.Errorf("Unexpected block category: %s", result.BlockCategory)
	}
}

func TestGenerate_InlinePayload(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{Content: geminiContent{Parts: []geminiPart{{Text: "a cat"}}}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := testProvider(server.URL)

	_, err := p.Generate(context.Background(), &provider.CallSpec{
		Model: "gemini-1.5-pro",
		Contents: []provider.Content{
			{Role: provider.RoleUser, Parts: []provider.Part{
				{Text: "what is this?"},
				{Data: []byte{0xff, 0xd8, 0xff}, MimeType: "image/jpeg"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(captured.Contents) != 1 || len(captured.Contents[0].Parts) != 2 {
		t.Fatalf("Unexpected wire shape: %+v", captured.Contents)
	}
	inline := captured.Contents[0].Parts[1].InlineData
	if inline == nil {
		t.Fatal("Expected second part to carry inline data")
	}
	if inline.MimeType != "image/jpeg" {
		t.Errorf("Unexpected mime type: %s", inline.MimeType)
	}
	if len(inline.Data) != 3 {
		t.Errorf("Expected 3 payload bytes, got %d", len(inline.Data))
	}
}

func TestGenerate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := testProvider(server.URL)

	_, err := p.Generate(context.Background(), &provider.CallSpec{
		Model: "gemini-2.0-flash",
		Contents: []provider.Content{
			{Role: provider.RoleUser, Parts: []provider.Part{{Text: "hi"}}},
		},
	})
	if err == nil {
		t.Fatal("Expected an error for a non-200 response")
	}
}
