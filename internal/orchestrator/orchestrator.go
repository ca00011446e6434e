package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crewloop.app/core/common/logger"
	"crewloop.app/core/internal/agent"
	"crewloop.app/core/internal/bus"
	"crewloop.app/core/internal/proposal"
	"crewloop.app/core/internal/retro"
	"crewloop.app/core/internal/summarizer"
)

// Kind identifies one of the known agent types. The set is closed: adding an
// agent means adding a constant here and a case in buildAgent.
type Kind string

const (
	KindSpec          Kind = "spec"
	KindGit           Kind = "git"
	KindCoach         Kind = "coach"
	KindMilestone     Kind = "milestone"
	KindRetrospective Kind = "retrospective"
)

// Kinds returns every known agent kind in initialization order. The
// retrospective agent comes last so the agents it observes exist first.
func Kinds() []Kind {
	return []Kind{KindSpec, KindGit, KindCoach, KindMilestone, KindRetrospective}
}

// Config carries the per-workspace collaborators agents are built from.
// Committer and Summarizer may be nil; the corresponding agents degrade
// rather than fail.
type Config struct {
	WorkspaceID   string
	WorkspacePath string
	Bus           bus.Bus
	Proposals     proposal.Store
	Committer     agent.Committer
	Summarizer    summarizer.Summarizer
}

// Orchestrator owns the live agent instances for one workspace.
type Orchestrator struct {
	cfg    Config
	states *agent.StateStore
	retros *retro.Store

	mu     sync.Mutex
	agents map[Kind]agent.Agent
}

func New(cfg Config) (*Orchestrator, error) {
	states, err := agent.NewStateStore(cfg.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", cfg.WorkspaceID, err)
	}
	return &Orchestrator{
		cfg:    cfg,
		states: states,
		retros: retro.NewStore(cfg.WorkspacePath),
		agents: make(map[Kind]agent.Agent),
	}, nil
}

// Retros exposes the workspace retrospective store for read endpoints.
func (o *Orchestrator) Retros() *retro.Store { return o.retros }

// Proposals exposes the workspace proposal store.
func (o *Orchestrator) Proposals() proposal.Store { return o.cfg.Proposals }

// Bus exposes the workspace event bus.
func (o *Orchestrator) Bus() bus.Bus { return o.cfg.Bus }

// Committer returns the live git agent when it is up, so approvals route
// commits through the same instance that accounts commit metrics.
func (o *Orchestrator) Committer() agent.Committer {
	o.mu.Lock()
	defer o.mu.Unlock()

	if a, live := o.agents[KindGit]; live {
		if c, ok := a.(agent.Committer); ok {
			return c
		}
	}
	return nil
}

// InitializeAgents constructs one instance per known kind. Already-live
// agents are reused, never duplicated. A single agent failing to build is
// logged and the others still come up.
func (o *Orchestrator) InitializeAgents(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WorkspaceID: logger.Ptr(o.cfg.WorkspaceID),
		Component:   "crewloop.orchestrator",
	})

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, kind := range Kinds() {
		if _, live := o.agents[kind]; live {
			continue
		}
		a, err := o.buildAgent(ctx, kind)
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize agent", "agent_id", string(kind), "error", err)
			continue
		}
		o.agents[kind] = a
	}

	slog.InfoContext(ctx, "agents initialized", "count", len(o.agents))
}

func (o *Orchestrator) buildAgent(ctx context.Context, kind Kind) (agent.Agent, error) {
	switch kind {
	case KindSpec:
		return agent.NewSpecAgent(ctx, o.cfg.WorkspaceID, o.cfg.Bus, o.states), nil
	case KindGit:
		return agent.NewGitAgent(ctx, o.cfg.WorkspaceID, o.cfg.Bus, o.states, o.cfg.Committer), nil
	case KindCoach:
		return agent.NewCoachAgent(ctx, o.cfg.WorkspaceID, o.cfg.Bus, o.states), nil
	case KindMilestone:
		return agent.NewMilestoneAgent(ctx, o.cfg.WorkspaceID, o.cfg.Bus, o.states), nil
	case KindRetrospective:
		return retro.NewAgent(ctx, o.cfg.WorkspaceID, o.cfg.Bus, o.states, o.Pipeline()), nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
}

// Pipeline builds a retrospective pipeline over this workspace's agents.
func (o *Orchestrator) Pipeline() *retro.Pipeline {
	agentIDs := make([]string, 0, len(Kinds()))
	for _, kind := range Kinds() {
		agentIDs = append(agentIDs, string(kind))
	}
	return retro.NewPipeline(retro.Config{
		WorkspaceID: o.cfg.WorkspaceID,
		AgentIDs:    agentIDs,
		States:      o.states,
		Bus:         o.cfg.Bus,
		Retros:      o.retros,
		Proposals:   o.cfg.Proposals,
		Summarizer:  o.cfg.Summarizer,
	})
}

// AgentMetrics returns a point-in-time snapshot of every live agent's
// metrics. The snapshot never aliases live agent state.
func (o *Orchestrator) AgentMetrics() map[string]map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	metrics := make(map[string]map[string]int, len(o.agents))
	for kind, a := range o.agents {
		metrics[string(kind)] = a.State().Metrics
	}
	return metrics
}

// AgentStatus is the dashboard view of a single agent.
type AgentStatus struct {
	AgentID      string         `json:"agent_id"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	LastActivity string         `json:"last_activity"`
	Metrics      map[string]int `json:"metrics"`
}

var agentNames = map[Kind]string{
	KindSpec:          "Spec Agent",
	KindGit:           "Git Agent",
	KindCoach:         "Strategy Coach Agent",
	KindMilestone:     "Milestone Agent",
	KindRetrospective: "Retrospective Agent",
}

// AgentStatuses derives the activity view served on the status endpoint.
// An agent with recorded errors reports "error", one that has processed
// nothing reports "idle", the rest report "active".
func (o *Orchestrator) AgentStatuses() []AgentStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UTC()
	statuses := make([]AgentStatus, 0, len(Kinds()))
	for _, kind := range Kinds() {
		a, live := o.agents[kind]
		if !live {
			statuses = append(statuses, AgentStatus{
				AgentID:      string(kind),
				Name:         agentNames[kind],
				Status:       "unknown",
				LastActivity: "Unknown",
			})
			continue
		}

		state := a.State()
		status := "active"
		switch {
		case state.Metrics["errors"] > 0:
			status = "error"
		case state.Metrics["events_processed"] == 0:
			status = "idle"
		}

		statuses = append(statuses, AgentStatus{
			AgentID:      string(kind),
			Name:         agentNames[kind],
			Status:       status,
			LastActivity: humanizeSince(now, state.LastUpdated),
			Metrics: map[string]int{
				"events_processed": state.Metrics["events_processed"],
				"events_published": state.Metrics["events_published"],
				"errors":           state.Metrics["errors"],
			},
		})
	}
	return statuses
}

// ShutdownAgents persists final agent state and releases the instances.
// Persisted state files are kept for the next initialization.
func (o *Orchestrator) ShutdownAgents(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for kind, a := range o.agents {
		if err := a.Shutdown(ctx); err != nil {
			slog.WarnContext(ctx, "agent shutdown failed", "agent_id", string(kind), "error", err)
		}
		delete(o.agents, kind)
	}
}

func humanizeSince(now, then time.Time) string {
	if then.IsZero() {
		return "Never"
	}
	delta := now.Sub(then)
	switch {
	case delta < time.Minute:
		return "Just now"
	case delta < time.Hour:
		return plural(int(delta.Minutes()), "minute")
	case delta < 24*time.Hour:
		return plural(int(delta.Hours()), "hour")
	default:
		return plural(int(delta.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
