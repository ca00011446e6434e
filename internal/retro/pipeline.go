package retro

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"crewloop.app/core/common/logger"
	"crewloop.app/core/internal/agent"
	"crewloop.app/core/internal/bus"
	"crewloop.app/core/internal/proposal"
	"crewloop.app/core/internal/summarizer"
)

// Pipeline runs one retrospective per trigger: collect a point-in-time
// snapshot of agent state, aggregate it with the event history, derive
// insights and action items, optionally synthesize a narrative, persist the
// report, and feed a change proposal back into the agent ecosystem.
//
// Every stage recovers locally; the pipeline has no retry policy and no
// mid-run cancellation: once triggered it runs to persistence.
type Pipeline struct {
	workspaceID string
	agentIDs    []string
	states      *agent.StateStore
	bus         bus.Bus
	retros      *Store
	proposals   proposal.Store
	summarizer  summarizer.Summarizer
}

// Config wires the pipeline. AgentIDs is the explicit registry of known
// agents; state files not belonging to a registered agent are ignored.
// Summarizer may be nil, in which case no narrative is synthesized.
type Config struct {
	WorkspaceID string
	AgentIDs    []string
	States      *agent.StateStore
	Bus         bus.Bus
	Retros      *Store
	Proposals   proposal.Store
	Summarizer  summarizer.Summarizer
}

func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		workspaceID: cfg.WorkspaceID,
		agentIDs:    cfg.AgentIDs,
		states:      cfg.States,
		bus:         cfg.Bus,
		retros:      cfg.Retros,
		proposals:   cfg.Proposals,
		summarizer:  cfg.Summarizer,
	}
}

// Run conducts one retrospective. It always returns a report: sub-steps
// degrade to empty or fallback data instead of failing the run.
func (p *Pipeline) Run(ctx context.Context, trigger string) *Retrospective {
	now := time.Now().UTC()
	retroID := p.retros.NewID(now)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WorkspaceID:     logger.Ptr(p.workspaceID),
		RetrospectiveID: logger.Ptr(retroID),
		Component:       "crewloop.retro.pipeline",
	})
	slog.InfoContext(ctx, "retrospective started", "trigger", trigger)

	// One snapshot up front: every later stage sees the same state, never a
	// mix of reads across a concurrent write.
	states := p.snapshotStates(ctx)

	metrics := collectMetrics(states)
	learnings := collectLearnings(states)
	events := p.summarizeEvents(ctx)
	insights := generateInsights(metrics, learnings, events.value)
	actionItems := proposeActionItems(insights)

	r := &Retrospective{
		RetrospectiveID: retroID,
		Timestamp:       now,
		Trigger:         trigger,
		AgentMetrics:    metrics,
		AgentLearnings:  learnings,
		EventSummary:    events.value,
		Insights:        insights,
		ActionItems:     actionItems,
	}

	summary := p.synthesize(ctx, r)
	if summary.degraded {
		slog.WarnContext(ctx, "narrative synthesis degraded", "reason", summary.reason)
	}
	r.LLMSummary = summary.value

	if err := p.retros.Save(ctx, r); err != nil {
		slog.ErrorContext(ctx, "failed to persist retrospective", "error", err)
	}

	if proposalID := p.deriveProposal(ctx, r); proposalID != "" {
		r.ProposalID = proposalID
		slog.InfoContext(ctx, "improvement proposal created", "proposal_id", proposalID)
	}

	p.publishSummary(ctx, r)

	slog.InfoContext(ctx, "retrospective completed",
		"insights", len(r.Insights),
		"action_items", len(r.ActionItems))
	return r
}

// snapshotStates reads the registered agents' state files once. Agents with
// missing or corrupt files are skipped with a warning.
func (p *Pipeline) snapshotStates(ctx context.Context) map[string]agent.State {
	states := make(map[string]agent.State, len(p.agentIDs))
	for _, agentID := range p.agentIDs {
		if state, found := p.states.Read(ctx, agentID); found {
			states[agentID] = state
		}
	}
	return states
}

func collectMetrics(states map[string]agent.State) map[string]map[string]int {
	metrics := make(map[string]map[string]int, len(states))
	for agentID, state := range states {
		metrics[agentID] = state.Metrics
	}
	return metrics
}

// collectLearnings keeps memory entries whose key mentions learning or
// insight; agents with no matching keys are omitted.
func collectLearnings(states map[string]agent.State) map[string]map[string]any {
	learnings := make(map[string]map[string]any)
	for agentID, state := range states {
		matched := make(map[string]any)
		for key, value := range state.Memory {
			lower := strings.ToLower(key)
			if strings.Contains(lower, "learning") || strings.Contains(lower, "insight") {
				matched[key] = value
			}
		}
		if len(matched) > 0 {
			learnings[agentID] = matched
		}
	}
	return learnings
}

// summarizeEvents aggregates the in-process event log. Backends without the
// history capability degrade to a note instead of an error.
func (p *Pipeline) summarizeEvents(ctx context.Context) outcome[EventSummary] {
	events, available := bus.History(p.bus)
	if !available {
		return degraded(EventSummary{
			Note: "Event history only available with the in-process bus",
		}, "bus backend has no event log")
	}

	summary := EventSummary{
		TotalEvents: len(events),
		EventTypes:  make(map[string]int),
	}
	for _, evt := range events {
		summary.EventTypes[evt.EventType]++
	}
	summary.MostActiveAgent = mostActiveSource(events)
	return ok(summary)
}

// mostActiveSource returns the source with the highest publish count, ties
// broken by first-seen order.
func mostActiveSource(events []bus.Event) string {
	if len(events) == 0 {
		return "none"
	}

	counts := make(map[string]int)
	var firstSeen []string
	for _, evt := range events {
		if _, seen := counts[evt.Source]; !seen {
			firstSeen = append(firstSeen, evt.Source)
		}
		counts[evt.Source]++
	}

	best := firstSeen[0]
	for _, source := range firstSeen[1:] {
		if counts[source] > counts[best] {
			best = source
		}
	}
	return best
}

// generateInsights applies the fixed rule set in order; every rule that
// applies emits, and emission order is preserved.
func generateInsights(metrics map[string]map[string]int, learnings map[string]map[string]any, events EventSummary) []string {
	var insights []string

	totalProcessed := 0
	totalErrors := 0
	for _, m := range metrics {
		totalProcessed += m["events_processed"]
		totalErrors += m["errors"]
	}

	if totalProcessed > 0 {
		insights = append(insights,
			fmt.Sprintf("Agents processed %d events in this cycle.", totalProcessed))
	}

	if totalErrors > 0 {
		insights = append(insights,
			fmt.Sprintf("⚠️ %d errors occurred across all agents. Review error logs.", totalErrors))
	}

	if events.TotalEvents > 0 {
		insights = append(insights,
			fmt.Sprintf("Most active agent: %s. Strong cross-agent communication observed.", events.MostActiveAgent))
	}

	if len(learnings) > 0 {
		insights = append(insights,
			fmt.Sprintf("Agents %s recorded learnings for future reference.",
				strings.Join(sortedKeys(learnings), ", ")))
	}

	var idle []string
	for agentID, m := range metrics {
		if m["events_processed"] == 0 {
			idle = append(idle, agentID)
		}
	}
	if len(idle) > 0 {
		sort.Strings(idle)
		insights = append(insights,
			fmt.Sprintf("⏸️ Idle agents: %s. Consider reviewing their triggers.", strings.Join(idle, ", ")))
	}

	return insights
}

// proposeActionItems scans each insight for the fixed markers. An insight
// can contribute more than one item; an empty result degrades to the single
// continue-current-workflow item, so the list is never empty.
//
// The marker match is substring-based on free text and is coupled to the
// phrasing in generateInsights; change one and the other must follow.
func proposeActionItems(insights []string) []ActionItem {
	var items []ActionItem

	for _, insight := range insights {
		lower := strings.ToLower(insight)

		if strings.Contains(lower, "errors") {
			items = append(items, ActionItem{
				Priority:   PriorityHigh,
				Action:     "Review error logs and fix agent error handling",
				AssignedTo: "developer",
			})
		}
		if strings.Contains(lower, "idle agents") {
			items = append(items, ActionItem{
				Priority:   PriorityMedium,
				Action:     "Review event subscriptions for idle agents",
				AssignedTo: "developer",
			})
		}
		if strings.Contains(lower, "learnings") {
			items = append(items, ActionItem{
				Priority:   PriorityLow,
				Action:     "Document agent learnings in project retrospective notes",
				AssignedTo: "team",
			})
		}
	}

	if len(items) == 0 {
		items = append(items, ActionItem{
			Priority:   PriorityLow,
			Action:     "Continue current workflow - agents performing well",
			AssignedTo: "team",
		})
	}

	return items
}

// synthesize asks the external summarizer for narrative prose. Any failure,
// including an unconfigured summarizer being asked, degrades in place.
func (p *Pipeline) synthesize(ctx context.Context, r *Retrospective) outcome[string] {
	if p.summarizer == nil {
		return ok("")
	}

	items := make([]summarizer.ActionItem, len(r.ActionItems))
	for i, item := range r.ActionItems {
		items[i] = summarizer.ActionItem{
			Priority:   string(item.Priority),
			Action:     item.Action,
			AssignedTo: item.AssignedTo,
		}
	}

	summary, err := p.summarizer.Summarize(ctx, summarizer.Payload{
		AgentMetrics:   r.AgentMetrics,
		AgentLearnings: r.AgentLearnings,
		Insights:       r.Insights,
		ActionItems:    items,
	})
	if err != nil {
		return degraded(summarizer.FallbackSummary, err.Error())
	}
	return ok(summary)
}

// publishSummary emits the completion event so other agents can react
// without re-reading the persisted record.
func (p *Pipeline) publishSummary(ctx context.Context, r *Retrospective) {
	data := map[string]any{
		"retrospective_id":   r.RetrospectiveID,
		"workspace_id":       p.workspaceID,
		"insights_count":     len(r.Insights),
		"action_items_count": len(r.ActionItems),
	}
	if r.ProposalID != "" {
		data["proposal_id"] = r.ProposalID
	}

	if err := p.bus.Publish(ctx, bus.TopicRetrospectiveEvents, bus.EventRetroSummary, data, "retrospective"); err != nil {
		slog.ErrorContext(ctx, "failed to publish retrospective summary", "error", err)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
