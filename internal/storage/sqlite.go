// Package storage persists sessions and conversation turns in SQLite, with
// an FTS5 index over turn text for search.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vrikshahq/vriksha/internal/observability"
)

var ErrNotFound = errors.New("storage: not found")

// DB is the capability surface the store needs. *sql.DB and *sql.Tx both
// satisfy it.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session is one conversation's metadata record.
type Session struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Purpose   string         `json:"purpose,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Turn is one persisted conversation turn.
type Turn struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchHit is one full-text match.
type SearchHit struct {
	Turn Turn
	// Rank is the FTS5 bm25 rank; lower is more relevant.
	Rank float64
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		purpose TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
		content,
		content='turns',
		content_rowid='rowid'
	)`,
	`CREATE TRIGGER IF NOT EXISTS turns_fts_insert AFTER INSERT ON turns BEGIN
		INSERT INTO turns_fts(rowid, content) VALUES (new.rowid, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS turns_fts_delete AFTER DELETE ON turns BEGIN
		INSERT INTO turns_fts(turns_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS turns_fts_update AFTER UPDATE ON turns BEGIN
		INSERT INTO turns_fts(turns_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		INSERT INTO turns_fts(rowid, content) VALUES (new.rowid, new.content);
	END`,
}

// Store is the session and turn repository.
type Store struct {
	db     DB
	logger *observability.Logger
	now    func() time.Time
}

// Open opens (or creates) a SQLite database at path and initializes the
// schema. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string, logger *observability.Logger) (*Store, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("storage: enable foreign keys: %w", err)
	}
	store, err := NewStore(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// NewStore wraps an existing connection and initializes the schema.
func NewStore(ctx context.Context, db DB, logger *observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("storage: init schema: %w", err)
		}
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// CreateSession inserts a session record and returns it.
func (s *Store) CreateSession(ctx context.Context, agentID, purpose string, metadata map[string]any) (Session, error) {
	now := s.now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Purpose:   purpose,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return Session{}, fmt.Errorf("storage: marshal session metadata: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, purpose, metadata_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, agentID, purpose, string(meta), formatTime(now), formatTime(now),
	); err != nil {
		return Session{}, fmt.Errorf("storage: create session: %w", err)
	}
	s.logger.Debug(ctx, "session created", "session_id", sess.ID, "agent_id", agentID)
	return sess, nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, purpose, metadata_json, created_at, updated_at FROM sessions WHERE id = ?`, id)
	var (
		sess            Session
		meta            sql.NullString
		created, updated string
	)
	if err := row.Scan(&sess.ID, &sess.AgentID, &sess.Purpose, &meta, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &sess.Metadata); err != nil {
			return Session{}, fmt.Errorf("storage: decode session metadata: %w", err)
		}
	}
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return sess, nil
}

// ListSessions returns sessions for an agent, newest first.
func (s *Store) ListSessions(ctx context.Context, agentID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, purpose, metadata_json, created_at, updated_at
		 FROM sessions WHERE agent_id = ? ORDER BY updated_at DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess            Session
			meta            sql.NullString
			created, updated string
		)
		if err := rows.Scan(&sess.ID, &sess.AgentID, &sess.Purpose, &meta, &created, &updated); err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &sess.Metadata); err != nil {
				return nil, fmt.Errorf("storage: decode session metadata: %w", err)
			}
		}
		sess.CreatedAt = parseTime(created)
		sess.UpdatedAt = parseTime(updated)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendTurn stores one turn and bumps the session's updated_at.
func (s *Store) AppendTurn(ctx context.Context, sessionID, role, content string, inputTokens, outputTokens int) (Turn, error) {
	now := s.now().UTC()
	turn := Turn{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Role:         role,
		Content:      content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CreatedAt:    now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, input_tokens, output_tokens, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, sessionID, role, content, inputTokens, outputTokens, formatTime(now),
	); err != nil {
		return Turn{}, fmt.Errorf("storage: append turn: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(now), sessionID,
	); err != nil {
		return Turn{}, fmt.Errorf("storage: touch session: %w", err)
	}
	return turn, nil
}

// GetTurns returns a session's turns in insertion order.
func (s *Store) GetTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, input_tokens, output_tokens, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// SearchTurns runs a full-text query over turn content, most relevant first.
func (s *Store) SearchTurns(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.session_id, t.role, t.content, t.input_tokens, t.output_tokens, t.created_at, turns_fts.rank
		 FROM turns_fts
		 JOIN turns t ON t.rowid = turns_fts.rowid
		 WHERE turns_fts MATCH ?
		 ORDER BY turns_fts.rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search turns: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var (
			hit     SearchHit
			created string
		)
		if err := rows.Scan(&hit.Turn.ID, &hit.Turn.SessionID, &hit.Turn.Role, &hit.Turn.Content,
			&hit.Turn.InputTokens, &hit.Turn.OutputTokens, &created, &hit.Rank); err != nil {
			return nil, fmt.Errorf("storage: scan search hit: %w", err)
		}
		hit.Turn.CreatedAt = parseTime(created)
		out = append(out, hit)
	}
	return out, rows.Err()
}

// DeleteSession removes a session; its turns cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var out []Turn
	for rows.Next() {
		var (
			turn    Turn
			created string
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content,
			&turn.InputTokens, &turn.OutputTokens, &created); err != nil {
			return nil, fmt.Errorf("storage: scan turn: %w", err)
		}
		turn.CreatedAt = parseTime(created)
		out = append(out, turn)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
