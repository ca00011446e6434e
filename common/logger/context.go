package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so handlers and pipeline stages never
// need to repeat workspace/agent identifiers in individual log statements.
type LogFields struct {
	WorkspaceID     *string // Workspace the activity belongs to
	AgentID         *string // Agent handling the event
	EventType       *string // Event type (e.g. "milestone.complete")
	RetrospectiveID *string // Retrospective run identifier
	ProposalID      *string // Proposal identifier
	Component       string  // Component name (e.g. "crewloop.retro.pipeline")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	return context.WithValue(ctx, logFieldsKey, mergeFields(existing, fields))
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.WorkspaceID != nil {
		result.WorkspaceID = next.WorkspaceID
	}
	if next.AgentID != nil {
		result.AgentID = next.AgentID
	}
	if next.EventType != nil {
		result.EventType = next.EventType
	}
	if next.RetrospectiveID != nil {
		result.RetrospectiveID = next.RetrospectiveID
	}
	if next.ProposalID != nil {
		result.ProposalID = next.ProposalID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{AgentID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
