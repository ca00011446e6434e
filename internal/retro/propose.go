package retro

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"crewloop.app/core/internal/proposal"
)

const proposalTitle = "Agent System Improvements (from Retrospective)"

// deriveProposal closes the feedback loop: retrospective → insights →
// proposal → agent-approved change. Returns the created proposal id, or ""
// when no proposal was produced.
func (p *Pipeline) deriveProposal(ctx context.Context, r *Retrospective) string {
	if p.proposals == nil {
		return ""
	}
	if len(r.ActionItems) == 0 {
		slog.InfoContext(ctx, "no action items, skipping proposal creation")
		return ""
	}

	selected := selectActions(r.ActionItems)
	description := renderProposalDescription(r, selected)

	prop := &proposal.Proposal{
		WorkspaceID: p.workspaceID,
		AgentID:     "retrospective",
		Title:       proposalTitle,
		Description: description,
		ProposedChanges: []proposal.Change{
			{
				FilePath:    fmt.Sprintf("docs/agent_improvements_%s.md", r.RetrospectiveID),
				ChangeType:  proposal.ChangeCreate,
				Description: "Agent improvement action plan",
				After:       description,
			},
		},
		Metadata: map[string]any{
			"retrospective_id":   r.RetrospectiveID,
			"action_items_count": len(selected),
		},
	}

	proposalID, err := p.proposals.Create(ctx, prop)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create improvement proposal", "error", err)
		return ""
	}
	return proposalID
}

// selectActions prefers the high priority items; without any it takes the
// first three overall.
func selectActions(items []ActionItem) []ActionItem {
	var high []ActionItem
	for _, item := range items {
		if item.Priority == PriorityHigh {
			high = append(high, item)
		}
	}
	if len(high) > 0 {
		return high
	}
	if len(items) > 3 {
		return items[:3]
	}
	return items
}

func renderProposalDescription(r *Retrospective, selected []ActionItem) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Agent System Improvements\n\n")
	fmt.Fprintf(&sb, "**Generated from Retrospective:** %s\n", r.RetrospectiveID)
	fmt.Fprintf(&sb, "**Date:** %s\n\n", r.Timestamp.Format("2006-01-02 15:04:05 UTC"))
	sb.WriteString("## Background\n\nAfter analyzing agent performance and collaboration patterns, the following improvements have been identified:\n\n")

	insights := r.Insights
	if len(insights) > 3 {
		insights = insights[:3]
	}
	for _, insight := range insights {
		fmt.Fprintf(&sb, "- %s\n", insight)
	}

	sb.WriteString("\n## Proposed Changes\n\n")
	for i, item := range selected {
		fmt.Fprintf(&sb, "### %d. %s\n\n", i+1, item.Action)
		fmt.Fprintf(&sb, "**Priority:** %s\n", strings.ToUpper(string(item.Priority)))
		fmt.Fprintf(&sb, "**Assigned to:** %s\n\n", item.AssignedTo)
		sb.WriteString(implementationNote(item.Action))
	}

	sb.WriteString(`
## Next Steps

1. Review this proposal
2. Approve to implement changes
3. Monitor agent metrics in the next retrospective
`)

	return sb.String()
}

// implementationNote picks the guidance template by keyword, checked in
// fixed priority order: error handling, event subscriptions, documentation,
// then the generic template.
func implementationNote(action string) string {
	lower := strings.ToLower(action)

	switch {
	case strings.Contains(lower, "error"):
		return "**Implementation:**\n" +
			"- Review error counters in the agent state files\n" +
			"- Tighten error accounting around agent handlers\n" +
			"- Improve error reporting to the event bus\n\n"
	case strings.Contains(lower, "subscribe") || strings.Contains(lower, "event"):
		return "**Implementation:**\n" +
			"- Update agent constructors to subscribe to the missing events\n" +
			"- Add a handler for the new event type\n" +
			"- Exercise the event flow end to end\n\n"
	case strings.Contains(lower, "document"):
		return "**Implementation:**\n" +
			"- Update the relevant README or docs files\n" +
			"- Fold recorded learnings into the workspace notes\n" +
			"- Add examples where they help\n\n"
	default:
		return "**Implementation:**\n" +
			"- Review the relevant agent code\n" +
			"- Make incremental changes\n" +
			"- Verify against existing workflows\n\n"
	}
}
