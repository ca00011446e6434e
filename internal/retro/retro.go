package retro

import (
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ActionItem is a concrete, prioritized follow-up derived from an insight.
// Action items only exist inside their retrospective record.
type ActionItem struct {
	Priority   Priority `json:"priority"`
	Action     string   `json:"action"`
	AssignedTo string   `json:"assigned_to"`
}

// EventSummary aggregates the in-process event log. When history is
// unavailable (external bus backend) only Note is set.
type EventSummary struct {
	TotalEvents     int            `json:"total_events"`
	EventTypes      map[string]int `json:"event_types,omitempty"`
	MostActiveAgent string         `json:"most_active_agent,omitempty"`
	Note            string         `json:"note,omitempty"`
}

// Retrospective is a synthesized report over agent activity, immutable once
// persisted. Its id is derived from the trigger timestamp and is unique
// within a workspace.
type Retrospective struct {
	RetrospectiveID string                    `json:"retrospective_id"`
	Timestamp       time.Time                 `json:"timestamp"`
	Trigger         string                    `json:"trigger"`
	AgentMetrics    map[string]map[string]int `json:"agent_metrics"`
	AgentLearnings  map[string]map[string]any `json:"agent_learnings"`
	EventSummary    EventSummary              `json:"event_summary"`
	Insights        []string                  `json:"insights"`
	ActionItems     []ActionItem              `json:"action_items"`
	LLMSummary      string                    `json:"llm_summary,omitempty"`
	ProposalID      string                    `json:"proposal_id,omitempty"`
}

// outcome is the explicit per-stage result: a stage either completes cleanly
// or degrades to a partial or zero value with a reason. Stages never abort
// the run, which is what lets a triggered retrospective always return a
// report.
type outcome[T any] struct {
	value    T
	degraded bool
	reason   string
}

func ok[T any](v T) outcome[T] {
	return outcome[T]{value: v}
}

func degraded[T any](v T, reason string) outcome[T] {
	return outcome[T]{value: v, degraded: true, reason: reason}
}
