// Package fleet implements agent lifecycle operations: spawning workers
// into detached tmux sessions, shutting them down, force-terminating,
// reviving dead agents, and the multi-step handoff protocol. It realizes
// conversation-level decisions as real process effects.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub001/internal/config"
	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/persona"
	"github.com/samotage/claude-headspace-sub001/internal/session"
	"github.com/samotage/claude-headspace-sub001/internal/store"
	"github.com/samotage/claude-headspace-sub001/internal/tmux"
)

// Validation failures are caught before any process effect and never
// retried automatically.
var (
	ErrBusy              = errors.New("agent operation already in progress")
	ErrMissingDependency = errors.New("required executable not found")
	ErrWorkspaceInvalid  = errors.New("workspace is not a directory")
	ErrPersonaInvalid    = errors.New("persona name invalid")
	ErrAgentNotLive      = errors.New("agent is not live")
	ErrAgentNotTerminal  = errors.New("agent has not ended")
	ErrNoPane            = errors.New("agent has no pane")
	ErrNoPersona         = errors.New("agent has no persona")
	ErrHandoffInProgress = errors.New("handoff already in progress")
	ErrNoHandoff         = errors.New("no handoff in progress")
)

// Environment passed to spawned workers. The worker's own hook scripts
// report back with these identifiers.
const (
	EnvAgentID     = "HEADSPACE_AGENT_ID"
	EnvSession     = "HEADSPACE_SESSION"
	EnvPersona     = "HEADSPACE_PERSONA"
	EnvPredecessor = "HEADSPACE_PREDECESSOR"
)

// Bridge is the slice of the tmux surface the fleet needs. *tmux.Tmux
// satisfies it; tests substitute a fake.
type Bridge interface {
	NewSessionDetached(ctx context.Context, session, dir, command string, env map[string]string) error
	KillSession(ctx context.Context, session string) error
	HasSession(ctx context.Context, session string) (bool, error)
	SendTextVerified(ctx context.Context, pane, text string) error
	SendKeys(ctx context.Context, pane string, keys ...string) error
	PanePID(ctx context.Context, pane string) (int, error)
	ListPanes(ctx context.Context) ([]tmux.PaneInfo, error)
	CheckHealth(ctx context.Context, pane, workerCmd string) (tmux.Health, error)
}

// handoffState is the in-memory in-progress marker for one agent's
// handoff, held from trigger until the continuation completes or fails.
type handoffState struct {
	reason       string
	artifactPath string
	startedAt    time.Time
}

// Manager owns fleet lifecycle operations. Per-agent mutations are
// guarded by a non-blocking busy set: a concurrent caller gets ErrBusy
// rather than waiting.
type Manager struct {
	cfg    *config.Config
	db     *store.DB
	bridge Bridge
	bus    *events.Bus
	logger *log.Logger

	mu       sync.Mutex
	busy     map[string]bool
	handoffs map[string]*handoffState

	// Injectable for tests.
	lookPath  func(string) (string, error)
	terminate func(pid int) error
	now       func() time.Time
}

// NewManager wires a fleet manager.
func NewManager(cfg *config.Config, db *store.DB, bridge Bridge, bus *events.Bus, logger *log.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		db:        db,
		bridge:    bridge,
		bus:       bus,
		logger:    logger,
		busy:      make(map[string]bool),
		handoffs:  make(map[string]*handoffState),
		lookPath:  exec.LookPath,
		terminate: tmux.TerminateProcessGroup,
		now:       time.Now,
	}
}

// tryLock marks an agent busy. Returns false if another operation on the
// same agent is in flight.
func (m *Manager) tryLock(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[agentID] {
		return false
	}
	m.busy[agentID] = true
	return true
}

func (m *Manager) unlock(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, agentID)
}

// Create spawns a new worker in a detached tmux session inside workspace
// and registers the agent. Fire-and-forget: it does not wait for the
// worker to finish starting; the pane handle is resolved later when the
// worker reports in.
func (m *Manager) Create(ctx context.Context, workspace, personaName, predecessorID string) (*store.Agent, error) {
	for _, bin := range []string{"tmux", m.cfg.WorkerCommand} {
		if _, err := m.lookPath(bin); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, bin)
		}
	}
	info, err := os.Stat(workspace)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceInvalid, workspace)
	}
	if personaName != "" {
		if err := persona.Validate(personaName); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrPersonaInvalid, personaName)
		}
	}

	now := m.now()
	agent := &store.Agent{
		ID:            uuid.NewString(),
		SessionName:   session.New(workspace),
		Project:       workspace,
		Persona:       personaName,
		PredecessorID: predecessorID,
		StartedAt:     now,
		LastSeenAt:    now,
	}

	env := map[string]string{
		EnvAgentID: agent.ID,
		EnvSession: agent.SessionName,
	}
	if personaName != "" {
		env[EnvPersona] = personaName
	}
	if predecessorID != "" {
		env[EnvPredecessor] = predecessorID
	}

	if err := m.bridge.NewSessionDetached(ctx, agent.SessionName, workspace, m.cfg.WorkerCommand, env); err != nil {
		return nil, fmt.Errorf("spawning session %s: %w", agent.SessionName, err)
	}
	if err := m.db.CreateAgent(ctx, agent); err != nil {
		// The session is up but unregistered; kill it rather than leak
		// an orphan.
		_ = m.bridge.KillSession(ctx, agent.SessionName)
		return nil, err
	}
	m.logger.Printf("fleet: created agent %s session %s workspace %s", agent.ID, agent.SessionName, workspace)
	return agent, nil
}

// Shutdown asks a live worker to exit gracefully by typing its own exit
// command into the pane. The agent is not marked ended here; the worker
// exit observer does that when the process actually goes away.
func (m *Manager) Shutdown(ctx context.Context, agentID string) error {
	if !m.tryLock(agentID) {
		return ErrBusy
	}
	defer m.unlock(agentID)

	agent, err := m.db.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if !agent.Live() {
		return ErrAgentNotLive
	}
	if agent.PaneID == "" {
		return ErrNoPane
	}
	if err := m.bridge.SendTextVerified(ctx, agent.PaneID, m.cfg.ExitCommand); err != nil {
		return fmt.Errorf("sending exit command to %s: %w", agentID, err)
	}
	m.logger.Printf("fleet: shutdown requested for agent %s", agentID)
	return nil
}

// ForceTerminate signals the pane's whole process group with SIGTERM so
// the worker and its children can clean up. Operator escape hatch; the
// reaper never calls this.
func (m *Manager) ForceTerminate(ctx context.Context, agentID string) error {
	if !m.tryLock(agentID) {
		return ErrBusy
	}
	defer m.unlock(agentID)

	agent, err := m.db.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if !agent.Live() {
		return ErrAgentNotLive
	}
	pid, err := m.bridge.PanePID(ctx, paneTarget(agent))
	if err != nil {
		return fmt.Errorf("resolving process for %s: %w", agentID, err)
	}
	if err := m.terminate(pid); err != nil {
		return fmt.Errorf("terminating process group %d: %w", pid, err)
	}
	m.logger.Printf("fleet: force-terminated agent %s (pid %d)", agentID, pid)
	return nil
}

// ObserveExit records that a worker's process is gone: stamps the agent
// ended, emits the event, and runs the handoff continuation if one is
// pending for this agent.
func (m *Manager) ObserveExit(ctx context.Context, agentID string) error {
	err := m.db.EndAgent(ctx, agentID, m.now())
	switch {
	case errors.Is(err, store.ErrAlreadyEnded):
		// Exit already observed by another path.
	case err != nil:
		return err
	default:
		m.bus.Emit(events.TypeAgentEnded, agentID, nil)
		m.logger.Printf("fleet: agent %s ended", agentID)
	}

	if m.handoffPending(agentID) {
		if _, err := m.CompleteHandoff(ctx, agentID); err != nil {
			return fmt.Errorf("handoff continuation for %s: %w", agentID, err)
		}
	}
	return nil
}

// Revive spawns a successor for a confirmed-dead agent, preserving
// workspace and persona and recording the continuity link. The successor
// recovers context by replaying the predecessor's transcript during its
// own priming, so no handoff artifact is involved.
func (m *Manager) Revive(ctx context.Context, agentID string) (*store.Agent, error) {
	agent, err := m.db.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Live() {
		return nil, ErrAgentNotTerminal
	}
	if agent.Project == "" {
		return nil, fmt.Errorf("%w: agent %s", ErrWorkspaceInvalid, agentID)
	}
	successor, err := m.Create(ctx, agent.Project, agent.Persona, agent.ID)
	if err != nil {
		return nil, err
	}
	m.logger.Printf("fleet: revived agent %s as %s", agentID, successor.ID)
	return successor, nil
}

// FindOrphans returns live panes that carry our session prefix but have
// no live agent bound to them: sessions left behind by a crashed daemon
// or registration failure.
func (m *Manager) FindOrphans(ctx context.Context) ([]tmux.PaneInfo, error) {
	panes, err := m.bridge.ListPanes(ctx)
	if err != nil {
		return nil, err
	}
	var orphans []tmux.PaneInfo
	for _, p := range panes {
		if !session.Owned(p.Session) {
			continue
		}
		_, err := m.db.AgentBySession(ctx, p.Session)
		switch {
		case errors.Is(err, store.ErrNotFound):
			orphans = append(orphans, p)
		case err != nil:
			return nil, err
		}
	}
	return orphans, nil
}

// ResolvePanes binds pane handles to live agents that do not have one
// yet, by matching their session names against the live pane listing.
// Create is fire-and-forget, so this is how a spawned agent acquires
// the pane that shutdown, handoff, and the monitor loops operate on.
// Returns the agents that were bound on this pass.
func (m *Manager) ResolvePanes(ctx context.Context) ([]*store.Agent, error) {
	agents, err := m.db.ListLiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	unbound := agents[:0]
	for _, a := range agents {
		if a.PaneID == "" {
			unbound = append(unbound, a)
		}
	}
	if len(unbound) == 0 {
		return nil, nil
	}

	panes, err := m.bridge.ListPanes(ctx)
	if err != nil {
		return nil, err
	}
	bySession := make(map[string]string, len(panes))
	for _, p := range panes {
		if session.Owned(p.Session) {
			bySession[p.Session] = p.PaneID
		}
	}

	var bound []*store.Agent
	for _, a := range unbound {
		pane, ok := bySession[a.SessionName]
		if !ok {
			continue
		}
		if err := m.db.SetAgentPane(ctx, a.ID, pane); err != nil {
			m.logger.Printf("fleet: binding pane %s to agent %s: %v", pane, a.ID, err)
			continue
		}
		a.PaneID = pane
		bound = append(bound, a)
		m.logger.Printf("fleet: agent %s registered pane %s", a.ID, pane)
	}
	return bound, nil
}

// paneTarget resolves the tmux target for an agent: its registered pane
// handle when known, otherwise the session's active pane.
func paneTarget(a *store.Agent) string {
	if a.PaneID != "" {
		return a.PaneID
	}
	return a.SessionName
}
