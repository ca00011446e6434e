package proposal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"crewloop.app/core/common/id"
)

func TestMain(m *testing.M) {
	if err := id.Init(1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// runStoreContract is the backend-agnostic behavior table. Both backends
// must pass it unchanged.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create assigns id and pending status", func(t *testing.T) {
		store := newStore(t)

		p := &Proposal{
			WorkspaceID: "ws",
			AgentID:     "retrospective",
			Title:       "Improve error handling",
			Status:      StatusApproved, // must be overridden
		}
		proposalID, err := store.Create(ctx, p)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if proposalID == "" {
			t.Fatal("create returned empty id")
		}

		got, err := store.Get(ctx, proposalID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusPending {
			t.Errorf("status = %q, want pending", got.Status)
		}
		if got.Title != "Improve error handling" {
			t.Errorf("title = %q", got.Title)
		}
	})

	t.Run("get unknown id", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Get(ctx, "prop-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("get unknown = %v, want ErrNotFound", err)
		}
	})

	t.Run("list orders by created_at descending and filters", func(t *testing.T) {
		store := newStore(t)

		base := time.Now().UTC().Add(-time.Hour)
		var ids []string
		for i := 0; i < 3; i++ {
			p := &Proposal{
				WorkspaceID: "ws",
				Title:       "Proposal",
				CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			}
			proposalID, err := store.Create(ctx, p)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			ids = append(ids, proposalID)
		}
		if _, err := store.Transition(ctx, ids[0], StatusRejected, nil); err != nil {
			t.Fatalf("transition: %v", err)
		}

		all, err := store.List(ctx, nil)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("list length = %d, want 3", len(all))
		}
		if !sort.SliceIsSorted(all, func(i, j int) bool {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}) {
			t.Error("list is not ordered by created_at descending")
		}

		pending := StatusPending
		filtered, err := store.List(ctx, &pending)
		if err != nil {
			t.Fatalf("list filtered: %v", err)
		}
		if len(filtered) != 2 {
			t.Errorf("pending list length = %d, want 2", len(filtered))
		}
		for _, p := range filtered {
			if p.Status != StatusPending {
				t.Errorf("filtered list contains status %q", p.Status)
			}
		}
	})

	t.Run("transition is single-shot", func(t *testing.T) {
		store := newStore(t)

		proposalID, err := store.Create(ctx, &Proposal{WorkspaceID: "ws", Title: "One shot"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		updated, err := store.Transition(ctx, proposalID, StatusApproved, map[string]any{"commit_hash": "abc123"})
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if updated.Status != StatusApproved {
			t.Errorf("status = %q, want approved", updated.Status)
		}
		if updated.Metadata["commit_hash"] != "abc123" {
			t.Errorf("metadata = %v, want commit_hash recorded", updated.Metadata)
		}

		if _, err := store.Transition(ctx, proposalID, StatusRejected, nil); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("second transition = %v, want ErrInvalidTransition", err)
		}

		got, err := store.Get(ctx, proposalID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusApproved {
			t.Errorf("status after failed transition = %q, want approved", got.Status)
		}
	})

	t.Run("transition unknown id", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Transition(ctx, "prop-missing", StatusApproved, nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("transition unknown = %v, want ErrNotFound", err)
		}
	})

	t.Run("transition merges extra into metadata", func(t *testing.T) {
		store := newStore(t)

		proposalID, err := store.Create(ctx, &Proposal{
			WorkspaceID: "ws",
			Title:       "Keep metadata",
			Metadata:    map[string]any{"retrospective_id": "retro-1"},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		updated, err := store.Transition(ctx, proposalID, StatusRejected, map[string]any{"reason": "out of scope"})
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if updated.Metadata["retrospective_id"] != "retro-1" {
			t.Error("existing metadata lost on transition")
		}
		if updated.Metadata["reason"] != "out of scope" {
			t.Error("extra not merged into metadata")
		}
	})
}

func TestFileStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		store, err := NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("file store: %v", err)
		}
		return store
	})
}

// memStore is a minimal in-memory Store used to show the contract table is
// backend-agnostic; the document-store backend is exercised against a live
// database in integration runs.
type memStore struct {
	mu   sync.Mutex
	docs map[string]Proposal
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]Proposal)}
}

func (s *memStore) Create(ctx context.Context, p *Proposal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = "prop-" + id.NewString()
	}
	p.Status = StatusPending
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.docs[p.ID] = *p
	return p.ID, nil
}

func (s *memStore) Get(ctx context.Context, proposalID string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.docs[proposalID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *memStore) List(ctx context.Context, filter *Status) ([]Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Proposal
	for _, p := range s.docs {
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

func (s *memStore) Transition(ctx context.Context, proposalID string, to Status, extra map[string]any) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.docs[proposalID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	p.Status = to
	if len(extra) > 0 {
		merged := make(map[string]any, len(p.Metadata)+len(extra))
		for k, v := range p.Metadata {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		p.Metadata = merged
	}
	s.docs[proposalID] = p
	return &p, nil
}

func TestMemStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newMemStore() })
}

func TestFileStoreWritesMarkdownRendering(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	proposalID, err := store.Create(ctx, &Proposal{
		WorkspaceID: "ws",
		Title:       "Agent System Improvements",
		Description: "Review error handling",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mdPath := filepath.Join(dir, "proposals", proposalID+".md")
	raw, err := os.ReadFile(mdPath)
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	if !strings.HasPrefix(string(raw), "# Agent System Improvements") {
		t.Errorf("markdown missing title heading:\n%s", raw)
	}

	if _, err := store.Transition(ctx, proposalID, StatusApproved, map[string]any{"commit_hash": "abc123"}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	raw, err = os.ReadFile(mdPath)
	if err != nil {
		t.Fatalf("read markdown after transition: %v", err)
	}
	md := string(raw)
	if !strings.Contains(md, "**Status:** approved") {
		t.Error("markdown missing status line after transition")
	}
	if !strings.Contains(md, "**Commit:** abc123") {
		t.Error("markdown missing commit line after transition")
	}
}
