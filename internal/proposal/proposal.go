package proposal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the proposal id is unknown.
	ErrNotFound = errors.New("proposal not found")
	// ErrInvalidTransition is returned when the proposal is already terminal.
	ErrInvalidTransition = errors.New("proposal status is terminal")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one proposed file change.
type Change struct {
	FilePath    string     `json:"file_path"`
	ChangeType  ChangeType `json:"change_type"`
	Description string     `json:"description"`
	After       string     `json:"after,omitempty"`
}

// Proposal is a pending change request produced by the feedback loop. Status
// transitions exactly once from pending; approved and rejected are terminal.
type Proposal struct {
	ID              string         `json:"id"`
	WorkspaceID     string         `json:"workspace_id"`
	AgentID         string         `json:"agent_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	ProposedChanges []Change       `json:"proposed_changes"`
	Status          Status         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Store is the proposal persistence contract. Two interchangeable backends
// exist (local files and the ArangoDB document store), selected by a single
// configuration flag and never mixed within one workspace.
type Store interface {
	// Create assigns an id if absent, persists status pending, returns the id.
	Create(ctx context.Context, p *Proposal) (string, error)
	Get(ctx context.Context, id string) (*Proposal, error)
	// List returns proposals ordered by created_at descending, optionally
	// filtered by status.
	List(ctx context.Context, filter *Status) ([]Proposal, error)
	// Transition atomically moves a pending proposal to a terminal status,
	// merging extra into its metadata. Returns ErrNotFound for unknown ids
	// and ErrInvalidTransition when the current status is already terminal.
	Transition(ctx context.Context, id string, to Status, extra map[string]any) (*Proposal, error)
}
