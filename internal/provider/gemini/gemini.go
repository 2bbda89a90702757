package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vibelearn/gengate/internal/provider"
)

type GeminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type geminiRequest struct {
	Contents         []geminiContent   `json:"contents"`
	SafetySettings   []safetySetting   `json:"safetySettings,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"` // encoding/json base64-encodes []byte
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate   `json:"candidates"`
	PromptFeedback *promptFeedback     `json:"promptFeedback,omitempty"`
	UsageMetadata  geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content       geminiContent  `json:"content"`
	FinishReason  string         `json:"finishReason"`
	SafetyRatings []safetyRating `json:"safetyRatings"`
}

type promptFeedback struct {
	BlockReason   string         `json:"blockReason,omitempty"`
	SafetyRatings []safetyRating `json:"safetyRatings"`
}

type safetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func New(apiKey string) provider.Provider {
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
		client:  http.DefaultClient,
	}
}

func (p *GeminiProvider) Generate(ctx context.Context, spec *provider.CallSpec) (*provider.Result, error) {
	geminiReq := mapSpec(spec)
	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, spec.Model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, err
	}

	result := &provider.Result{
		InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
		OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
		Model:        spec.Model,
		Provider:     p.Name(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}

	// Prompt-level block: no candidates are generated at all.
	if fb := geminiResp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		result.Blocked = true
		result.BlockCategory = blockCategory(fb.BlockReason, fb.SafetyRatings)
		return result, nil
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini api returned no candidates")
	}

	cand := geminiResp.Candidates[0]
	if cand.FinishReason == "SAFETY" {
		result.Blocked = true
		result.BlockCategory = blockCategory("SAFETY", cand.SafetyRatings)
		return result, nil
	}

	if len(cand.Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini api returned an empty candidate")
	}

	result.Text = cand.Content.Parts[0].Text
	return result, nil
}

// blockCategory picks the most probable offending category; falls back
// to the raw block reason when ratings carry no signal.
func blockCategory(reason string, ratings []safetyRating) string {
	for _, want := range []string{"HIGH", "MEDIUM"} {
		for _, r := range ratings {
			if r.Probability == want {
				return r.Category
			}
		}
	}
	if len(ratings) > 0 {
		return ratings[0].Category
	}
	return reason
}

func mapSpec(spec *provider.CallSpec) geminiRequest {
	contents := make([]geminiContent, len(spec.Contents))
	for i, c := range spec.Contents {
		parts := make([]geminiPart, len(c.Parts))
		for j, part := range c.Parts {
			if len(part.Data) > 0 {
				parts[j] = geminiPart{InlineData: &inlineData{
					MimeType: part.MimeType,
					Data:     part.Data,
				}}
			} else {
				parts[j] = geminiPart{Text: part.Text}
			}
		}
		contents[i] = geminiContent{Role: c.Role, Parts: parts}
	}

	settings := make([]safetySetting, len(spec.SafetySettings))
	for i, s := range spec.SafetySettings {
		settings[i] = safetySetting{Category: s.Category, Threshold: s.Threshold}
	}

	return geminiRequest{
		Contents:         contents,
		SafetySettings:   settings,
		GenerationConfig: mapGenerationConfig(spec.GenerationConfig),
	}
}

func mapGenerationConfig(gc provider.GenerationConfig) *generationConfig {
	out := &generationConfig{MaxOutputTokens: gc.MaxOutputTokens}
	if gc.Temperature != 0 {
		t := gc.Temperature
		out.Temperature = &t
	}
	if gc.TopP != 0 {
		p := gc.TopP
		out.TopP = &p
	}
	if gc.TopK != 0 {
		k := gc.TopK
		out.TopK = &k
	}
	if out.Temperature == nil && out.TopP == nil && out.TopK == nil && out.MaxOutputTokens == 0 {
		return nil
	}
	return out
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}
