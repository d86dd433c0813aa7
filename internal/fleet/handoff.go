package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/persona"
	"github.com/samotage/claude-headspace-sub001/internal/store"
)

// Handoff is a cross-process protocol, not one call. StartHandoff
// instructs the outgoing worker to dump context and exit; the worker's
// exit is observed externally (ObserveExit), which runs CompleteHandoff;
// once the successor has registered a pane, PrimeSuccessor delivers the
// composed priming prompt exactly once.

// StartHandoff validates preconditions, records the in-progress marker,
// and instructs the outgoing worker to author its context dump and exit.
// Returns the artifact path the worker was told to write.
func (m *Manager) StartHandoff(ctx context.Context, agentID, reason string) (string, error) {
	m.mu.Lock()
	if m.handoffs[agentID] != nil {
		m.mu.Unlock()
		return "", ErrHandoffInProgress
	}
	// Reserve the marker before validating so a concurrent duplicate
	// trigger is rejected immediately.
	m.handoffs[agentID] = &handoffState{reason: reason, startedAt: m.now()}
	m.mu.Unlock()

	artifact, err := m.startHandoff(ctx, agentID, reason)
	if err != nil {
		m.clearHandoff(agentID)
		return "", err
	}
	return artifact, nil
}

func (m *Manager) startHandoff(ctx context.Context, agentID, reason string) (string, error) {
	agent, err := m.db.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	if !agent.Live() {
		return "", ErrAgentNotLive
	}
	if agent.Persona == "" {
		return "", ErrNoPersona
	}
	if agent.PaneID == "" {
		return "", ErrNoPane
	}
	if _, err := m.db.HandoffByAgent(ctx, agentID); err == nil {
		return "", store.ErrHandoffExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	artifact, err := persona.HandoffArtifactPath(m.cfg.DataDir, agent.Persona, m.now())
	if err != nil {
		return "", err
	}

	instruction := fmt.Sprintf(
		"Write a complete handoff document for your successor to %s. "+
			"Cover current task state, decisions made, open problems, and next steps. "+
			"When the file is written, run %s.",
		artifact, m.cfg.ExitCommand)
	if err := m.bridge.SendTextVerified(ctx, agent.PaneID, instruction); err != nil {
		return "", fmt.Errorf("instructing agent %s: %w", agentID, err)
	}

	m.mu.Lock()
	m.handoffs[agentID].artifactPath = artifact
	m.mu.Unlock()

	m.logger.Printf("fleet: handoff started for agent %s, artifact %s", agentID, artifact)
	return artifact, nil
}

// CompleteHandoff is the continuation run when the outgoing worker's
// exit is observed: verify the artifact, persist the record, end the
// predecessor, and spawn the successor. A failure after the record is
// persisted keeps the record so an operator can resume with Revive
// instead of restarting the whole handoff.
func (m *Manager) CompleteHandoff(ctx context.Context, agentID string) (*store.Agent, error) {
	m.mu.Lock()
	state := m.handoffs[agentID]
	m.mu.Unlock()
	if state == nil {
		return nil, ErrNoHandoff
	}
	defer m.clearHandoff(agentID)

	if err := persona.VerifyArtifact(state.artifactPath); err != nil {
		return nil, err
	}

	agent, err := m.db.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	h := &store.Handoff{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Reason:       state.reason,
		ArtifactPath: state.artifactPath,
		PrimingPrompt: fmt.Sprintf(
			"You are taking over from a previous agent. Read the handoff document at %s "+
				"before doing anything else, then continue the work it describes.",
			state.artifactPath),
		CreatedAt: m.now(),
	}
	if err := m.db.CreateHandoff(ctx, h); err != nil {
		return nil, err
	}

	if err := m.db.EndAgent(ctx, agentID, m.now()); err != nil && !errors.Is(err, store.ErrAlreadyEnded) {
		return nil, err
	}

	successor, err := m.Create(ctx, agent.Project, agent.Persona, agentID)
	if err != nil {
		// The Handoff record is already durable; report the downstream
		// failure so the operator can spawn the successor separately.
		return nil, fmt.Errorf("handoff recorded but successor creation failed: %w", err)
	}
	if err := m.db.SetHandoffSuccessor(ctx, h.ID, successor.ID); err != nil {
		return successor, err
	}

	m.bus.Emit(events.TypeHandoffCompleted, agentID, successor.ID)
	m.logger.Printf("fleet: handoff completed, agent %s succeeded by %s", agentID, successor.ID)
	return successor, nil
}

// PrimeSuccessor delivers the predecessor's priming prompt to a freshly
// registered successor pane. Valid once per predecessor; a successor
// with no pane yet, no predecessor, or no recorded priming prompt is a
// no-op, not an error.
func (m *Manager) PrimeSuccessor(ctx context.Context, successorID string) error {
	successor, err := m.db.GetAgent(ctx, successorID)
	if err != nil {
		return err
	}
	if successor.PredecessorID == "" || successor.PaneID == "" {
		return nil
	}

	h, err := m.db.HandoffByAgent(ctx, successor.PredecessorID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Revival without a handoff record; priming comes from the
		// transcript replay instead.
		return nil
	case err != nil:
		return err
	}
	if h.PrimingPrompt == "" {
		return nil
	}

	// Stamp delivery before sending: at-most-once. A second call sees
	// zero rows and stops here.
	err = m.db.MarkHandoffDelivered(ctx, h.ID, m.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	}

	if err := m.bridge.SendTextVerified(ctx, successor.PaneID, h.PrimingPrompt); err != nil {
		return fmt.Errorf("delivering priming prompt to %s: %w", successorID, err)
	}
	m.logger.Printf("fleet: primed successor %s from handoff %s", successorID, h.ID)
	return nil
}

func (m *Manager) handoffPending(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handoffs[agentID] != nil
}

func (m *Manager) clearHandoff(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handoffs, agentID)
}
