package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrHandoffExists marks an attempt to create a second handoff for the
// same predecessor.
var ErrHandoffExists = errors.New("handoff already recorded for agent")

const handoffColumns = `id, agent_id, successor_id, reason, artifact_path,
	priming_prompt, created_at, delivered_at`

// CreateHandoff records the continuity bridge for a terminating agent.
// One per predecessor, enforced by the unique agent_id constraint.
func (d *DB) CreateHandoff(ctx context.Context, h *Handoff) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO handoffs (id, agent_id, successor_id, reason, artifact_path,
			priming_prompt, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.AgentID, h.SuccessorID, h.Reason, h.ArtifactPath,
		h.PrimingPrompt, fmtTime(h.CreatedAt), fmtNullTime(h.DeliveredAt))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrHandoffExists
		}
		return fmt.Errorf("inserting handoff for %s: %w", h.AgentID, err)
	}
	return nil
}

// HandoffByAgent returns the handoff keyed by predecessor agent id.
func (d *DB) HandoffByAgent(ctx context.Context, agentID string) (*Handoff, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT `+handoffColumns+` FROM handoffs WHERE agent_id = ?`, agentID)
	return scanHandoff(row)
}

// SetHandoffSuccessor links the spawned successor to the record.
func (d *DB) SetHandoffSuccessor(ctx context.Context, id, successorID string) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE handoffs SET successor_id = ? WHERE id = ?`, successorID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkHandoffDelivered stamps the one-shot priming delivery. Returns
// ErrNotFound if the record is missing and ErrAlreadyEnded-like no-op
// protection via the delivered_at guard: a second delivery attempt
// affects zero rows and reports ErrNotFound to the caller.
func (d *DB) MarkHandoffDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE handoffs SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanHandoff(row interface{ Scan(...any) error }) (*Handoff, error) {
	var h Handoff
	var created string
	var delivered sql.NullString
	err := row.Scan(&h.ID, &h.AgentID, &h.SuccessorID, &h.Reason, &h.ArtifactPath,
		&h.PrimingPrompt, &created, &delivered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	h.CreatedAt = parseTime(created)
	h.DeliveredAt = parseNullTime(delivered)
	return &h, nil
}
