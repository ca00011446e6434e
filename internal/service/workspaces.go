package service

import (
	"context"

	"crewloop.app/core/core/config"
	"crewloop.app/core/internal/orchestrator"
	"crewloop.app/core/internal/proposal"
	"crewloop.app/core/internal/retro"
)

// Workspace bundles the per-workspace collaborators the HTTP surface needs.
type Workspace struct {
	ID           string
	Orchestrator *orchestrator.Orchestrator
	Retros       *retro.Store
	Proposals    proposal.Store
	Approvals    *ApprovalService
}

// Workspaces resolves workspace ids to live workspace bundles. Orchestrator
// caching lives in the manager; the bundle around it is cheap to rebuild.
type Workspaces struct {
	cfg     config.Config
	manager *orchestrator.Manager
}

func NewWorkspaces(cfg config.Config, manager *orchestrator.Manager) *Workspaces {
	return &Workspaces{cfg: cfg, manager: manager}
}

func (s *Workspaces) Get(ctx context.Context, workspaceID string) (*Workspace, error) {
	o, err := s.manager.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	return &Workspace{
		ID:           workspaceID,
		Orchestrator: o,
		Retros:       o.Retros(),
		Proposals:    o.Proposals(),
		Approvals:    NewApprovalService(o.Proposals(), o.Committer(), o.Bus(), s.cfg.Proposals.AutoCommit),
	}, nil
}
