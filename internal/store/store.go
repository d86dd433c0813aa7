// Package store persists the orchestrator's durable records — agents,
// commands, turns, handoffs — in a local SQLite database. The rest of
// the system treats these as plain CRUD with transactional commit around
// each state transition; everything here is glue, not policy.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound marks a lookup of a record that does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyEnded marks a second attempt to end an agent. Ended is
	// written exactly once; agents are never resurrected.
	ErrAlreadyEnded = errors.New("agent already ended")
)

// Agent is one worker process binding. A non-nil EndedAt is permanently
// terminal.
type Agent struct {
	ID            string
	SessionName   string
	PaneID        string
	Project       string // workspace directory the worker runs in
	Persona       string // optional persona name
	PredecessorID string // optional continuity link to a dead agent
	StartedAt     time.Time
	LastSeenAt    time.Time
	EndedAt       *time.Time

	// ContextPercent is the last parsed remaining-context reading from
	// the worker's status line. Nil until first observed.
	ContextPercent *int
}

// Live reports whether the agent has not been ended.
func (a *Agent) Live() bool { return a.EndedAt == nil }

// Handoff bridges a terminating agent to its successor. Created once per
// terminating agent, never mutated except for successor linkage and the
// one-shot priming delivery stamp.
type Handoff struct {
	ID            string
	AgentID       string // predecessor
	SuccessorID   string // set when the successor is spawned
	Reason        string
	ArtifactPath  string
	PrimingPrompt string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id             TEXT PRIMARY KEY,
	session_name   TEXT NOT NULL,
	pane_id        TEXT NOT NULL DEFAULT '',
	project        TEXT NOT NULL,
	persona        TEXT NOT NULL DEFAULT '',
	predecessor_id TEXT NOT NULL DEFAULT '',
	started_at     TEXT NOT NULL,
	last_seen_at   TEXT NOT NULL,
	ended_at       TEXT,
	context_pct    INTEGER
);

CREATE TABLE IF NOT EXISTS commands (
	id           TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL,
	state        TEXT NOT NULL,
	instruction  TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_commands_agent ON commands(agent_id);

CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	agent_id        TEXT NOT NULL,
	command_id      TEXT NOT NULL,
	actor           TEXT NOT NULL,
	intent          TEXT NOT NULL,
	text            TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	answers_turn_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_turns_command ON turns(command_id);

CREATE TABLE IF NOT EXISTS handoffs (
	id             TEXT PRIMARY KEY,
	agent_id       TEXT NOT NULL UNIQUE,
	successor_id   TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	artifact_path  TEXT NOT NULL,
	priming_prompt TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	delivered_at   TEXT
);
`

// DB is the SQLite-backed store.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the database at path. ":memory:"
// gives an ephemeral database for tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{sql: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.sql.Close() }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// fmtTime and parseTime fix the on-disk time representation to RFC3339
// with nanoseconds, independent of driver defaults.
func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func parseNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
