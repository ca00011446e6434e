package agent

import (
	"context"
	"log/slog"

	"crewloop.app/core/internal/bus"
)

// Committer is the external git-integration collaborator. It receives the
// triggering event verbatim and returns a commit identifier, or an empty id
// when it chose not to commit; both are non-error outcomes.
type Committer interface {
	CommitFromEvent(ctx context.Context, eventType string, data map[string]any, source string) (string, error)
}

// GitAgent fronts the git collaborator inside the agent ecosystem. Actual
// repository operations live behind the Committer interface; the agent only
// does the event plumbing and accounting around them.
type GitAgent struct {
	*Base
	committer Committer
}

// NewGitAgent wires the agent with an optional external committer. A nil
// committer means every commit request is declined, which is a valid mode
// (approval and git-committed are decoupled states).
func NewGitAgent(ctx context.Context, workspaceID string, b bus.Bus, states *StateStore, committer Committer) *GitAgent {
	a := &GitAgent{
		Base:      NewBase(ctx, workspaceID, "git", b, states),
		committer: committer,
	}
	a.SubscribeToEvent(bus.EventProposalApproved, a.handleProposalApproved)
	return a
}

func (a *GitAgent) handleProposalApproved(ctx context.Context, evt bus.Event) error {
	proposalID, _ := evt.Data["proposal_id"].(string)
	a.Remember(ctx, "last_approved_proposal", proposalID)
	return nil
}

// CommitFromEvent satisfies Committer so the approval service can invoke the
// collaborator through this agent.
func (a *GitAgent) CommitFromEvent(ctx context.Context, eventType string, data map[string]any, source string) (string, error) {
	if a.committer == nil {
		slog.InfoContext(ctx, "no committer configured, declining commit", "event_type", eventType)
		return "", nil
	}

	commitID, err := a.committer.CommitFromEvent(ctx, eventType, data, source)
	if err != nil {
		return "", err
	}
	if commitID != "" {
		a.IncrementMetric(ctx, "commits_created")
	}
	return commitID, nil
}
