package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const agentColumns = `id, session_name, pane_id, project, persona, predecessor_id,
	started_at, last_seen_at, ended_at, context_pct`

// CreateAgent inserts a new agent record.
func (d *DB) CreateAgent(ctx context.Context, a *Agent) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO agents (id, session_name, pane_id, project, persona, predecessor_id,
			started_at, last_seen_at, ended_at, context_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionName, a.PaneID, a.Project, a.Persona, a.PredecessorID,
		fmtTime(a.StartedAt), fmtTime(a.LastSeenAt), fmtNullTime(a.EndedAt), nullInt(a.ContextPercent))
	if err != nil {
		return fmt.Errorf("inserting agent %s: %w", a.ID, err)
	}
	return nil
}

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var started, lastSeen string
	var ended sql.NullString
	var ctxPct sql.NullInt64
	err := row.Scan(&a.ID, &a.SessionName, &a.PaneID, &a.Project, &a.Persona, &a.PredecessorID,
		&started, &lastSeen, &ended, &ctxPct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.StartedAt = parseTime(started)
	a.LastSeenAt = parseTime(lastSeen)
	a.EndedAt = parseNullTime(ended)
	a.ContextPercent = parseNullInt(ctxPct)
	return &a, nil
}

// GetAgent returns one agent by id, or ErrNotFound.
func (d *DB) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// AgentBySession returns the live agent bound to a session name.
func (d *DB) AgentBySession(ctx context.Context, session string) (*Agent, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE session_name = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, session)
	return scanAgent(row)
}

// ListLiveAgents returns all agents that have not ended, oldest first.
func (d *DB) ListLiveAgents(ctx context.Context) ([]*Agent, error) {
	return d.listAgents(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE ended_at IS NULL ORDER BY started_at`)
}

// ListAgents returns every agent, oldest first.
func (d *DB) ListAgents(ctx context.Context) ([]*Agent, error) {
	return d.listAgents(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY started_at`)
}

func (d *DB) listAgents(ctx context.Context, query string, args ...any) ([]*Agent, error) {
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// TouchAgent advances an agent's last-seen timestamp.
func (d *DB) TouchAgent(ctx context.Context, id string, at time.Time) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE agents SET last_seen_at = ? WHERE id = ? AND ended_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetAgentPane records the pane handle once the worker registers.
func (d *DB) SetAgentPane(ctx context.Context, id, pane string) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE agents SET pane_id = ? WHERE id = ?`, pane, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetAgentContext stores the latest remaining-context reading.
func (d *DB) SetAgentContext(ctx context.Context, id string, pct int) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE agents SET context_pct = ? WHERE id = ?`, pct, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// EndAgent stamps the agent's ended timestamp. Ending is one-shot: a
// second call returns ErrAlreadyEnded and leaves the original stamp.
func (d *DB) EndAgent(ctx context.Context, id string, at time.Time) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE agents SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := d.GetAgent(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyEnded
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
