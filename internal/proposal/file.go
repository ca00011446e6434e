package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"crewloop.app/core/common/id"
)

const proposalsDirName = "proposals"

// FileStore keeps proposals as <id>.json records plus an <id>.md rendering
// under the workspace's proposals directory. Transitions take a per-id lock
// so a read-modify-write never races a concurrent transition on the same id.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(workspacePath string) (*FileStore, error) {
	if workspacePath == "" {
		return nil, fmt.Errorf("workspace path is required")
	}
	dir := filepath.Join(workspacePath, proposalsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating proposals directory: %w", err)
	}
	return &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileStore) lockFor(proposalID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[proposalID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[proposalID] = l
	}
	return l
}

func (s *FileStore) Create(ctx context.Context, p *Proposal) (string, error) {
	if p.ID == "" {
		p.ID = "prop-" + id.NewString()
	}
	p.Status = StatusPending
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	if err := s.writeJSON(p); err != nil {
		return "", err
	}

	md := fmt.Sprintf("# %s\n\n%s\n", p.Title, p.Description)
	if err := os.WriteFile(s.mdPath(p.ID), []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("writing proposal markdown: %w", err)
	}

	slog.InfoContext(ctx, "proposal created", "proposal_id", p.ID, "title", p.Title)
	return p.ID, nil
}

func (s *FileStore) Get(ctx context.Context, proposalID string) (*Proposal, error) {
	raw, err := os.ReadFile(s.jsonPath(proposalID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading proposal: %w", err)
	}

	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing proposal %s: %w", proposalID, err)
	}
	return &p, nil
}

func (s *FileStore) List(ctx context.Context, filter *Status) ([]Proposal, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading proposals directory: %w", err)
	}

	var out []Proposal
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable proposal file",
				"file", entry.Name(), "error", err)
			continue
		}

		var p Proposal
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.WarnContext(ctx, "skipping unparsable proposal file",
				"file", entry.Name(), "error", err)
			continue
		}

		if filter != nil && p.Status != *filter {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FileStore) Transition(ctx context.Context, proposalID string, to Status, extra map[string]any) (*Proposal, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("transition target must be approved or rejected, got %q", to)
	}

	lock := s.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("proposal %s is %s: %w", proposalID, p.Status, ErrInvalidTransition)
	}

	p.Status = to
	if len(extra) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			p.Metadata[k] = v
		}
	}

	if err := s.writeJSON(p); err != nil {
		return nil, err
	}
	s.appendStatusLine(ctx, proposalID, to, extra)

	slog.InfoContext(ctx, "proposal transitioned",
		"proposal_id", proposalID, "status", string(to))
	return p, nil
}

// appendStatusLine records the transition in the human-readable rendering.
// The markdown is presentation only, so a failure here is logged, not fatal.
func (s *FileStore) appendStatusLine(ctx context.Context, proposalID string, to Status, extra map[string]any) {
	mdPath := s.mdPath(proposalID)
	raw, err := os.ReadFile(mdPath)
	if err != nil {
		slog.WarnContext(ctx, "proposal markdown missing on transition",
			"proposal_id", proposalID, "error", err)
		return
	}

	var sb strings.Builder
	sb.Write(raw)
	fmt.Fprintf(&sb, "\n\n---\n**Status:** %s\n", to)
	if hash, ok := extra["commit_hash"].(string); ok && hash != "" {
		fmt.Fprintf(&sb, "**Commit:** %s\n", hash)
	}
	if reason, ok := extra["reason"].(string); ok && reason != "" {
		fmt.Fprintf(&sb, "**Reason:** %s\n", reason)
	}

	if err := os.WriteFile(mdPath, []byte(sb.String()), 0o644); err != nil {
		slog.WarnContext(ctx, "failed to update proposal markdown",
			"proposal_id", proposalID, "error", err)
	}
}

func (s *FileStore) writeJSON(p *Proposal) error {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}

	fullPath := s.jsonPath(p.ID)
	tmpPath := fullPath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing temp proposal: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming proposal: %w", err)
	}
	return nil
}

func (s *FileStore) jsonPath(proposalID string) string {
	return filepath.Join(s.dir, proposalID+".json")
}

func (s *FileStore) mdPath(proposalID string) string {
	return filepath.Join(s.dir, proposalID+".md")
}
