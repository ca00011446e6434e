package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/arangodb/go-driver/v2/connection"

	"crewloop.app/core/common/id"
	"crewloop.app/core/core/config"
)

const proposalsCollection = "proposals"

// arangoDocument is the stored shape. The proposal id doubles as the
// document key; the markdown rendering is embedded so transitions can append
// status lines without a second store.
type arangoDocument struct {
	Key             string         `json:"_key,omitempty"`
	WorkspaceID     string         `json:"workspace_id"`
	AgentID         string         `json:"agent_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	ProposedChanges []Change       `json:"proposed_changes"`
	Status          Status         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Rendered        string         `json:"rendered,omitempty"`
}

func (d arangoDocument) toProposal() *Proposal {
	return &Proposal{
		ID:              d.Key,
		WorkspaceID:     d.WorkspaceID,
		AgentID:         d.AgentID,
		Title:           d.Title,
		Description:     d.Description,
		ProposedChanges: d.ProposedChanges,
		Status:          d.Status,
		CreatedAt:       d.CreatedAt,
		Metadata:        d.Metadata,
	}
}

// ArangoStore is the managed document-store backend. One collection holds
// every workspace's proposals; reads always filter on workspace_id.
type ArangoStore struct {
	db          arangodb.Database
	col         arangodb.Collection
	workspaceID string
}

func NewArangoStore(ctx context.Context, cfg config.ArangoDBConfig, workspaceID string) (*ArangoStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("arangodb config is incomplete")
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	client := arangodb.NewClient(conn)

	exists, err := client.DatabaseExists(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("check database exists: %w", err)
	}
	if !exists {
		if _, err := client.CreateDatabase(ctx, cfg.Database, nil); err != nil {
			return nil, fmt.Errorf("create database: %w", err)
		}
	}

	db, err := client.GetDatabase(ctx, cfg.Database, nil)
	if err != nil {
		return nil, fmt.Errorf("get database: %w", err)
	}

	colExists, err := db.CollectionExists(ctx, proposalsCollection)
	if err != nil {
		return nil, fmt.Errorf("check collection exists: %w", err)
	}
	if !colExists {
		if _, err := db.CreateCollectionV2(ctx, proposalsCollection, nil); err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
		slog.InfoContext(ctx, "arangodb proposals collection created", "database", cfg.Database)
	}

	col, err := db.GetCollection(ctx, proposalsCollection, nil)
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}

	return &ArangoStore{db: db, col: col, workspaceID: workspaceID}, nil
}

func (s *ArangoStore) Create(ctx context.Context, p *Proposal) (string, error) {
	if p.ID == "" {
		p.ID = "prop-" + id.NewString()
	}
	p.Status = StatusPending
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.WorkspaceID == "" {
		p.WorkspaceID = s.workspaceID
	}

	doc := arangoDocument{
		Key:             p.ID,
		WorkspaceID:     p.WorkspaceID,
		AgentID:         p.AgentID,
		Title:           p.Title,
		Description:     p.Description,
		ProposedChanges: p.ProposedChanges,
		Status:          p.Status,
		CreatedAt:       p.CreatedAt,
		Metadata:        p.Metadata,
		Rendered:        fmt.Sprintf("# %s\n\n%s\n", p.Title, p.Description),
	}

	if _, err := s.col.CreateDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("create proposal document: %w", err)
	}

	slog.InfoContext(ctx, "proposal created", "proposal_id", p.ID, "title", p.Title)
	return p.ID, nil
}

func (s *ArangoStore) Get(ctx context.Context, proposalID string) (*Proposal, error) {
	var doc arangoDocument
	if _, err := s.col.ReadDocument(ctx, proposalID, &doc); err != nil {
		if shared.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read proposal document: %w", err)
	}
	doc.Key = proposalID
	return doc.toProposal(), nil
}

func (s *ArangoStore) List(ctx context.Context, filter *Status) ([]Proposal, error) {
	query := `
		FOR d IN proposals
			FILTER d.workspace_id == @workspace
			%s
			SORT d.created_at DESC
			RETURN d`

	bindVars := map[string]any{"workspace": s.workspaceID}
	statusFilter := ""
	if filter != nil {
		statusFilter = "FILTER d.status == @status"
		bindVars["status"] = string(*filter)
	}

	cursor, err := s.db.Query(ctx, fmt.Sprintf(query, statusFilter), &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer cursor.Close()

	var out []Proposal
	for cursor.HasMore() {
		var doc arangoDocument
		meta, err := cursor.ReadDocument(ctx, &doc)
		if err != nil {
			return nil, fmt.Errorf("read proposal document: %w", err)
		}
		doc.Key = meta.Key
		out = append(out, *doc.toProposal())
	}
	return out, nil
}

// Transition uses a status-guarded AQL update so the read-modify-write on a
// single proposal cannot race a concurrent transition on the same id: the
// update only matches while the document is still pending.
func (s *ArangoStore) Transition(ctx context.Context, proposalID string, to Status, extra map[string]any) (*Proposal, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("transition target must be approved or rejected, got %q", to)
	}

	query := `
		FOR d IN proposals
			FILTER d._key == @id AND d.status == @pending
			UPDATE d WITH {
				status: @to,
				metadata: MERGE(NOT_NULL(d.metadata, {}), @extra),
				rendered: CONCAT(NOT_NULL(d.rendered, ""), @statusLine)
			} IN proposals
			RETURN NEW`

	if extra == nil {
		extra = map[string]any{}
	}

	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"id":         proposalID,
			"pending":    string(StatusPending),
			"to":         string(to),
			"extra":      extra,
			"statusLine": renderStatusLine(to, extra),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transition proposal: %w", err)
	}
	defer cursor.Close()

	if cursor.HasMore() {
		var doc arangoDocument
		meta, err := cursor.ReadDocument(ctx, &doc)
		if err != nil {
			return nil, fmt.Errorf("read transitioned proposal: %w", err)
		}
		doc.Key = meta.Key
		slog.InfoContext(ctx, "proposal transitioned",
			"proposal_id", proposalID, "status", string(to))
		return doc.toProposal(), nil
	}

	// No match: either the id is unknown or the proposal is already terminal.
	current, err := s.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("proposal %s is %s: %w", proposalID, current.Status, ErrInvalidTransition)
}

func renderStatusLine(to Status, extra map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n\n---\n**Status:** %s\n", to)
	if hash, ok := extra["commit_hash"].(string); ok && hash != "" {
		fmt.Fprintf(&sb, "**Commit:** %s\n", hash)
	}
	if reason, ok := extra["reason"].(string); ok && reason != "" {
		fmt.Fprintf(&sb, "**Reason:** %s\n", reason)
	}
	return sb.String()
}
