package service

import (
	"context"
	"log/slog"

	"crewloop.app/core/common/logger"
	"crewloop.app/core/internal/agent"
	"crewloop.app/core/internal/bus"
	"crewloop.app/core/internal/proposal"
)

// ApprovalService resolves pending proposals. Approval and git commit are
// deliberately decoupled states: a failed commit never blocks the transition.
type ApprovalService struct {
	proposals  proposal.Store
	committer  agent.Committer
	events     bus.Bus
	autoCommit bool
}

func NewApprovalService(proposals proposal.Store, committer agent.Committer, events bus.Bus, autoCommit bool) *ApprovalService {
	return &ApprovalService{
		proposals:  proposals,
		committer:  committer,
		events:     events,
		autoCommit: autoCommit,
	}
}

// Approve transitions a pending proposal to approved. With auto-commit
// enabled the git collaborator runs first and a returned commit id is
// recorded in the proposal metadata.
func (s *ApprovalService) Approve(ctx context.Context, proposalID string) (*proposal.Proposal, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProposalID: logger.Ptr(proposalID),
		Component:  "crewloop.service.approval",
	})

	prop, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	extra := map[string]any{}
	if s.autoCommit && s.committer != nil {
		commitID, err := s.committer.CommitFromEvent(ctx, bus.EventProposalApproved, map[string]any{
			"proposal_id":     proposalID,
			"changes_summary": prop.Description,
		}, "approval")
		if err != nil {
			slog.WarnContext(ctx, "git commit failed, approving without commit", "error", err)
		} else if commitID != "" {
			extra["commit_hash"] = commitID
		}
	}

	updated, err := s.proposals.Transition(ctx, proposalID, proposal.StatusApproved, extra)
	if err != nil {
		return nil, err
	}

	data := map[string]any{"proposal_id": proposalID}
	if commit, recorded := extra["commit_hash"]; recorded {
		data["commit_hash"] = commit
	}
	if err := s.events.Publish(ctx, bus.TopicProposalEvents, bus.EventProposalApproved, data, "approval"); err != nil {
		slog.ErrorContext(ctx, "failed to publish approval event", "error", err)
	}

	slog.InfoContext(ctx, "proposal approved", "auto_committed", extra["commit_hash"] != nil)
	return updated, nil
}

// Reject transitions a pending proposal to rejected, recording the reason.
func (s *ApprovalService) Reject(ctx context.Context, proposalID, reason string) (*proposal.Proposal, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProposalID: logger.Ptr(proposalID),
		Component:  "crewloop.service.approval",
	})

	extra := map[string]any{}
	if reason != "" {
		extra["reason"] = reason
	}

	updated, err := s.proposals.Transition(ctx, proposalID, proposal.StatusRejected, extra)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "proposal rejected", "reason", logger.Truncate(reason, 120))
	return updated, nil
}
