package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samotage/claude-headspace-sub001/internal/convo"
)

// queries implements the command/turn operations over either the raw
// database or an open transaction.
type queries struct {
	q querier
}

// txStore is the convo.Store view bound to one open transaction.
type txStore struct {
	queries
	d *DB
}

// WithTx runs fn inside a transaction; the convo.Machine commits each
// state transition through here.
func (d *DB) WithTx(ctx context.Context, fn func(convo.Store) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	s := &txStore{queries: queries{q: tx}, d: d}
	if err := fn(s); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Nested transactions collapse into the enclosing one.
func (s *txStore) WithTx(ctx context.Context, fn func(convo.Store) error) error {
	return fn(s)
}

func (d *DB) run() queries { return queries{q: d.sql} }

// CurrentCommand implements convo.Store.
func (d *DB) CurrentCommand(ctx context.Context, agentID string) (*convo.Command, error) {
	return d.run().CurrentCommand(ctx, agentID)
}

// CreateCommand implements convo.Store.
func (d *DB) CreateCommand(ctx context.Context, cmd *convo.Command) error {
	return d.run().CreateCommand(ctx, cmd)
}

// UpdateCommand implements convo.Store.
func (d *DB) UpdateCommand(ctx context.Context, cmd *convo.Command) error {
	return d.run().UpdateCommand(ctx, cmd)
}

// CreateTurn implements convo.Store.
func (d *DB) CreateTurn(ctx context.Context, turn *convo.Turn) error {
	return d.run().CreateTurn(ctx, turn)
}

// LastQuestionTurn implements convo.Store.
func (d *DB) LastQuestionTurn(ctx context.Context, commandID string) (*convo.Turn, error) {
	return d.run().LastQuestionTurn(ctx, commandID)
}

const commandColumns = `id, agent_id, state, instruction, summary, started_at, completed_at`

func (s queries) CurrentCommand(ctx context.Context, agentID string) (*convo.Command, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE agent_id = ? AND state != ?
		ORDER BY started_at DESC LIMIT 1`,
		agentID, string(convo.StateComplete))
	cmd, err := scanCommand(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil // idle, by definition
	}
	return cmd, err
}

func (s queries) CreateCommand(ctx context.Context, cmd *convo.Command) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO commands (id, agent_id, state, instruction, summary, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.AgentID, string(cmd.State), cmd.Instruction, cmd.Summary,
		fmtTime(cmd.StartedAt), fmtNullTime(cmd.CompletedAt))
	if err != nil {
		return fmt.Errorf("inserting command %s: %w", cmd.ID, err)
	}
	return nil
}

func (s queries) UpdateCommand(ctx context.Context, cmd *convo.Command) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE commands SET state = ?, instruction = ?, summary = ?, completed_at = ?
		WHERE id = ?`,
		string(cmd.State), cmd.Instruction, cmd.Summary, fmtNullTime(cmd.CompletedAt), cmd.ID)
	if err != nil {
		return fmt.Errorf("updating command %s: %w", cmd.ID, err)
	}
	return requireRow(res)
}

func (s queries) CreateTurn(ctx context.Context, turn *convo.Turn) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO turns (id, agent_id, command_id, actor, intent, text, created_at, answers_turn_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.AgentID, turn.CommandID, string(turn.Actor), string(turn.Intent),
		turn.Text, fmtTime(turn.CreatedAt), turn.AnswersTurnID)
	if err != nil {
		return fmt.Errorf("inserting turn %s: %w", turn.ID, err)
	}
	return nil
}

func (s queries) LastQuestionTurn(ctx context.Context, commandID string) (*convo.Turn, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+turnColumns+` FROM turns
		WHERE command_id = ? AND intent = ?
		ORDER BY created_at DESC LIMIT 1`,
		commandID, string(convo.IntentQuestion))
	turn, err := scanTurn(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return turn, err
}

const turnColumns = `id, agent_id, command_id, actor, intent, text, created_at, answers_turn_id`

func scanCommand(row interface{ Scan(...any) error }) (*convo.Command, error) {
	var c convo.Command
	var state, started string
	var completed sql.NullString
	err := row.Scan(&c.ID, &c.AgentID, &state, &c.Instruction, &c.Summary, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.State = convo.State(state)
	c.StartedAt = parseTime(started)
	c.CompletedAt = parseNullTime(completed)
	return &c, nil
}

func scanTurn(row interface{ Scan(...any) error }) (*convo.Turn, error) {
	var t convo.Turn
	var actor, intent, created string
	err := row.Scan(&t.ID, &t.AgentID, &t.CommandID, &actor, &intent, &t.Text, &created, &t.AnswersTurnID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Actor = convo.Actor(actor)
	t.Intent = convo.Intent(intent)
	t.CreatedAt = parseTime(created)
	return &t, nil
}

// ListTurns returns a command's turns in creation order.
func (d *DB) ListTurns(ctx context.Context, commandID string) ([]*convo.Turn, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT `+turnColumns+` FROM turns
		WHERE command_id = ? ORDER BY created_at`, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []*convo.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListCommands returns an agent's commands, oldest first.
func (d *DB) ListCommands(ctx context.Context, agentID string) ([]*convo.Command, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE agent_id = ? ORDER BY started_at`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []*convo.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}
