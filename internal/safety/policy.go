package safety

import (
	"sort"

	"github.com/vibelearn/gengate/internal/provider"
)

// Harm categories covered by the fixed rule set.
const (
	CategoryHarassment       = "HARM_CATEGORY_HARASSMENT"
	CategoryHateSpeech       = "HARM_CATEGORY_HATE_SPEECH"
	CategorySexuallyExplicit = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	CategoryDangerousContent = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

// Block thresholds understood by the provider.
const (
	ThresholdBlockNone           = "BLOCK_NONE"
	ThresholdBlockLowAndAbove    = "BLOCK_LOW_AND_ABOVE"
	ThresholdBlockMediumAndAbove = "BLOCK_MEDIUM_AND_ABOVE"
	ThresholdBlockOnlyHigh       = "BLOCK_ONLY_HIGH"
)

// Policy is the fixed category/threshold rule set attached to every
// outbound call. It is immutable after construction; enforcement is a
// pure merge with no failure mode.
type Policy struct {
	thresholds map[string]string
}

// Default returns the policy applied when configuration supplies no
// overrides: block medium-and-above on every category.
func Default() *Policy {
	return NewPolicy(nil)
}

// NewPolicy builds a policy from the default rule set with per-category
// threshold overrides. Unknown override categories are ignored.
func NewPolicy(overrides map[string]string) *Policy {
	thresholds := map[string]string{
		CategoryHarassment:       ThresholdBlockMediumAndAbove,
		CategoryHateSpeech:       ThresholdBlockMediumAndAbove,
		CategorySexuallyExplicit: ThresholdBlockMediumAndAbove,
		CategoryDangerousContent: ThresholdBlockMediumAndAbove,
	}
	for category, threshold := range overrides {
		if _, ok := thresholds[category]; ok {
			thresholds[category] = threshold
		}
	}
	return &Policy{thresholds: thresholds}
}

// Attach returns a copy of spec with the policy's settings merged in.
// The input spec is not mutated.
func (p *Policy) Attach(spec *provider.CallSpec) *provider.CallSpec {
	out := *spec
	out.SafetySettings = p.Settings()
	return &out
}

// Settings returns the rule set in a stable category order.
func (p *Policy) Settings() []provider.SafetySetting {
	categories := make([]string, 0, len(p.thresholds))
	for c := range p.thresholds {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	settings := make([]provider.SafetySetting, len(categories))
	for i, c := range categories {
		settings[i] = provider.SafetySetting{Category: c, Threshold: p.thresholds[c]}
	}
	return settings
}
