package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const stateDirName = ".agent_state"

// State is the durable record of one agent within one workspace. It is
// exclusively mutated by its owning agent; the orchestrator and the
// retrospective pipeline only read snapshots.
type State struct {
	AgentID     string         `json:"agent_id"`
	Metrics     map[string]int `json:"metrics"`
	Memory      map[string]any `json:"memory"`
	LastUpdated time.Time      `json:"last_updated"`
}

func newState(agentID string) State {
	return State{
		AgentID: agentID,
		Metrics: make(map[string]int),
		Memory:  make(map[string]any),
	}
}

// clone returns a deep-enough copy for readers: metrics and the memory map
// are copied, memory values are shared (treated as immutable by readers).
func (s State) clone() State {
	out := State{
		AgentID:     s.AgentID,
		LastUpdated: s.LastUpdated,
		Metrics:     make(map[string]int, len(s.Metrics)),
		Memory:      make(map[string]any, len(s.Memory)),
	}
	for k, v := range s.Metrics {
		out.Metrics[k] = v
	}
	for k, v := range s.Memory {
		out.Memory[k] = v
	}
	return out
}

// StateStore persists agent state as one JSON file per agent under the
// workspace's .agent_state directory.
type StateStore struct {
	workspacePath string
}

func NewStateStore(workspacePath string) (*StateStore, error) {
	if workspacePath == "" {
		return nil, fmt.Errorf("workspace path is required")
	}
	if err := os.MkdirAll(filepath.Join(workspacePath, stateDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating agent state directory: %w", err)
	}
	return &StateStore{workspacePath: workspacePath}, nil
}

func (s *StateStore) path(agentID string) string {
	return filepath.Join(s.workspacePath, stateDirName, agentID+"_state.json")
}

// Read returns an agent's persisted state if a readable record exists.
// Missing or unparsable files report false with a logged warning, so readers
// can skip an agent without failing: a state file mid-write parses as absent.
func (s *StateStore) Read(ctx context.Context, agentID string) (State, bool) {
	raw, err := os.ReadFile(s.path(agentID))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.WarnContext(ctx, "skipping unreadable agent state",
				"agent_id", agentID, "error", err)
		}
		return State{}, false
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		slog.WarnContext(ctx, "skipping corrupt agent state",
			"agent_id", agentID, "error", err)
		return State{}, false
	}

	if state.Metrics == nil {
		state.Metrics = make(map[string]int)
	}
	if state.Memory == nil {
		state.Memory = make(map[string]any)
	}
	state.AgentID = agentID
	return state, true
}

// Load reads an agent's persisted state for its owner. A missing or
// unparsable file yields a fresh state rather than an error, so an agent
// whose record was lost keeps running with reset counters.
func (s *StateStore) Load(ctx context.Context, agentID string) State {
	if state, ok := s.Read(ctx, agentID); ok {
		return state
	}
	return newState(agentID)
}

// Save atomically rewrites an agent's state file (temp write + rename), so a
// concurrent reader never observes a partially written record.
func (s *StateStore) Save(ctx context.Context, state State) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent state: %w", err)
	}

	fullPath := s.path(state.AgentID)
	tmpPath := fullPath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing temp agent state: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming agent state: %w", err)
	}
	return nil
}
