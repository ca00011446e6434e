package retro

import (
	"fmt"
	"strings"
)

// renderMarkdown produces the human-readable retrospective report that is
// written alongside the JSON document.
func renderMarkdown(r *Retrospective) string {
	var sb strings.Builder

	sb.WriteString("# Agent Retrospective\n\n")
	fmt.Fprintf(&sb, "**ID:** %s\n", r.RetrospectiveID)
	fmt.Fprintf(&sb, "**Date:** %s\n", r.Timestamp.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&sb, "**Trigger:** %s\n\n", r.Trigger)

	sb.WriteString("## Agent Metrics\n\n")
	for _, agentID := range sortedKeys(r.AgentMetrics) {
		fmt.Fprintf(&sb, "### %s\n", strings.ToUpper(agentID))
		metrics := r.AgentMetrics[agentID]
		for _, name := range sortedKeys(metrics) {
			fmt.Fprintf(&sb, "- %s: %d\n", name, metrics[name])
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Insights\n\n")
	for _, insight := range r.Insights {
		fmt.Fprintf(&sb, "- %s\n", insight)
	}

	sb.WriteString("\n## Action Items\n\n")
	for _, item := range r.ActionItems {
		fmt.Fprintf(&sb, "- [%s] %s (Assigned: %s)\n",
			strings.ToUpper(string(item.Priority)), item.Action, item.AssignedTo)
	}

	if r.LLMSummary != "" {
		sb.WriteString("\n## Summary\n\n")
		sb.WriteString(r.LLMSummary)
		sb.WriteString("\n")
	}

	sb.WriteString("\n---\n*Generated by the retrospective agent*\n")
	return sb.String()
}
