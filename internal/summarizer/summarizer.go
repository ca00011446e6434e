package summarizer

import (
	"context"
)

// FallbackSummary replaces the narrative when the external call fails for
// any reason. Retrospectives degrade to it rather than aborting.
const FallbackSummary = "LLM synthesis unavailable. See raw insights above."

// Payload is the aggregated retrospective data sent for narrative synthesis.
type Payload struct {
	AgentMetrics   map[string]map[string]int
	AgentLearnings map[string]map[string]any
	Insights       []string
	ActionItems    []ActionItem
}

// ActionItem mirrors the retrospective action item shape without importing
// the retro package (summarizer is a leaf).
type ActionItem struct {
	Priority   string `json:"priority"`
	Action     string `json:"action"`
	AssignedTo string `json:"assigned_to"`
}

// Summarizer produces a short narrative (~200 words) over a retrospective
// payload. Implementations call an external model; failures surface as
// errors and the caller substitutes FallbackSummary.
type Summarizer interface {
	Summarize(ctx context.Context, payload Payload) (string, error)
}
