package bus

import (
	"time"
)

// Topic names used by the core. Agents may publish on additional topics;
// routing is by event type, topics only partition the log and the streams.
const (
	TopicAgentEvents         = "agent.events"
	TopicRetrospectiveEvents = "retrospective.events"
	TopicProposalEvents      = "proposal.events"
)

// Event types the core publishes or reacts to. Agent-owned domain events
// are matched generically by their string value and are not enumerated here.
const (
	EventTaskCommitted        = "task.committed"
	EventMilestoneComplete    = "milestone.complete"
	EventMilestoneProgress    = "milestone.progress.v1"
	EventSpecAnalyzeRequested = "spec.analyze.requested"
	EventProposalApproved     = "proposal.approved"
	EventRetroSummary         = "retrospective.summary.v1"
	EventCoachTip             = "coach.tip.v1"
)

// Event is an immutable record published on the bus. Data is owned by the
// publisher; subscribers must not mutate it.
type Event struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Topic     string         `json:"topic"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}
