package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// BuildFunc assembles a workspace's orchestrator with its backends (bus,
// proposal store) already selected. Supplied by the entrypoint wiring.
type BuildFunc func(ctx context.Context, workspaceID string) (*Orchestrator, error)

// Manager caches one orchestrator per workspace so repeated requests reuse
// live agents instead of re-reading every state file.
type Manager struct {
	build BuildFunc

	mu            sync.Mutex
	orchestrators map[string]*Orchestrator
}

func NewManager(build BuildFunc) *Manager {
	return &Manager{
		build:         build,
		orchestrators: make(map[string]*Orchestrator),
	}
}

// Get returns the workspace's orchestrator, building and initializing it on
// first use.
func (m *Manager) Get(ctx context.Context, workspaceID string) (*Orchestrator, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if o, cached := m.orchestrators[workspaceID]; cached {
		return o, nil
	}

	o, err := m.build(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("building orchestrator for workspace %s: %w", workspaceID, err)
	}
	o.InitializeAgents(ctx)
	m.orchestrators[workspaceID] = o
	return o, nil
}

// ShutdownAll tears down every cached orchestrator. Used on server shutdown.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, o := range m.orchestrators {
		o.ShutdownAgents(ctx)
		delete(m.orchestrators, id)
	}
}
