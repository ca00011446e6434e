package retro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var ErrNotFound = errors.New("retrospective not found")

const storeDirName = "retrospectives"

// Store persists retrospectives as JSON documents plus a rendered markdown
// report next to each one.
type Store struct {
	dir string
}

func NewStore(workspacePath string) *Store {
	return &Store{dir: filepath.Join(workspacePath, storeDirName)}
}

// NewID builds a timestamp-derived identifier, suffixing on collision so two
// retrospectives in the same second stay distinct.
func (s *Store) NewID(ts time.Time) string {
	base := "retro-" + ts.UTC().Format("20060102-150405")
	id := base
	for n := 2; s.exists(id); n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

func (s *Store) exists(id string) bool {
	_, err := os.Stat(s.jsonPath(id))
	return err == nil
}

func (s *Store) jsonPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) mdPath(id string) string {
	return filepath.Join(s.dir, id+".md")
}

func (s *Store) Save(ctx context.Context, r *Retrospective) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create retrospectives directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal retrospective: %w", err)
	}
	if err := writeFileAtomic(s.jsonPath(r.RetrospectiveID), data); err != nil {
		return fmt.Errorf("failed to write retrospective: %w", err)
	}

	// The markdown report is a convenience for humans. Losing it is not
	// worth failing the save.
	if err := writeFileAtomic(s.mdPath(r.RetrospectiveID), []byte(renderMarkdown(r))); err != nil {
		slog.WarnContext(ctx, "failed to write retrospective report", "retrospective_id", r.RetrospectiveID, "error", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Retrospective, error) {
	data, err := os.ReadFile(s.jsonPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read retrospective %s: %w", id, err)
	}
	var r Retrospective
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse retrospective %s: %w", id, err)
	}
	return &r, nil
}

// List returns all stored retrospectives, newest first. Unreadable entries
// are skipped with a warning rather than failing the whole listing.
func (s *Store) List(ctx context.Context) ([]Retrospective, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read retrospectives directory: %w", err)
	}

	var retros []Retrospective
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable retrospective", "file", entry.Name(), "error", err)
			continue
		}
		var r Retrospective
		if err := json.Unmarshal(data, &r); err != nil {
			slog.WarnContext(ctx, "skipping unparsable retrospective", "file", entry.Name(), "error", err)
			continue
		}
		retros = append(retros, r)
	}

	sort.SliceStable(retros, func(i, j int) bool {
		return retros[i].Timestamp.After(retros[j].Timestamp)
	})
	return retros, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
