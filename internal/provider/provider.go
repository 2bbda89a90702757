package provider

import (
	"context"
)

// Turn roles accepted by the generation backends.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Part struct {
	Text     string
	Data     []byte // inline binary payload, e.g. an image
	MimeType string // required when Data is set
}

type Content struct {
	Role  string
	Parts []Part
}

// SafetySetting constrains one harm category on an outbound call.
type SafetySetting struct {
	Category  string
	Threshold string
}

// GenerationConfig carries sampling parameters. Zero values mean
// "use the provider default" and are omitted from the wire request.
type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// CallSpec is a fully resolved provider call: model selected, history
// adapted, safety rules attached.
type CallSpec struct {
	Model            string
	Contents         []Content
	SafetySettings   []SafetySetting
	GenerationConfig GenerationConfig
	// Metadata for tracing
	AccountID string
	RequestID string
}

// Result is the raw outcome of a provider call. Exactly one of Text or
// the Blocked indicator is meaningful.
type Result struct {
	Text          string
	Blocked       bool
	BlockCategory string
	InputTokens   int
	OutputTokens  int
	Model         string
	Provider      string
	LatencyMs     int64
}

type Provider interface {
	Generate(ctx context.Context, spec *CallSpec) (*Result, error)
	Name() string
}
