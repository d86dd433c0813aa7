package convo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub001/internal/events"
)

// ErrIllegalTransition marks a (state, actor, intent) combination absent
// from the transition table. It is a structured rejection: nothing was
// persisted, nothing crashed, and the caller may simply try again later
// with a different event.
var ErrIllegalTransition = errors.New("illegal transition")

// TransitionError carries the rejected combination.
type TransitionError struct {
	AgentID string
	From    State
	Actor   Actor
	Intent  Intent
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for agent %s: %s + %s:%s", e.AgentID, e.From, e.Actor, e.Intent)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// Store is the persistence surface the machine needs. Each transition
// commits atomically via WithTx; the storage engine behind it is not the
// machine's concern.
type Store interface {
	// CurrentCommand returns the agent's latest incomplete command, or
	// nil when the agent is idle.
	CurrentCommand(ctx context.Context, agentID string) (*Command, error)
	CreateCommand(ctx context.Context, cmd *Command) error
	UpdateCommand(ctx context.Context, cmd *Command) error
	CreateTurn(ctx context.Context, turn *Turn) error
	LastQuestionTurn(ctx context.Context, commandID string) (*Turn, error)
	WithTx(ctx context.Context, fn func(Store) error) error
}

// SummaryKind distinguishes the two summarization triggers.
type SummaryKind string

const (
	SummaryAwaitingInput SummaryKind = "awaiting_input"
	SummaryCompletion    SummaryKind = "completion"
)

// SummaryRequest asks for asynchronous summarization work. The machine
// only ever enqueues these; it never runs them inline in a transition.
type SummaryRequest struct {
	Kind        SummaryKind
	AgentID     string
	CommandID   string
	Instruction string
	Text        string // question text or completion text
}

// transitionKey indexes the table. IntentAny matches any intent for the
// given actor, used for the user-while-active rows.
type transitionKey struct {
	from   State
	actor  Actor
	intent Intent
}

const intentAny Intent = "*"

// transitions is the authoritative table. Anything absent is rejected.
var transitions = map[transitionKey]State{
	{StateIdle, ActorUser, IntentCommand}:           StateCommanded,
	{StateCommanded, ActorUser, IntentCommand}:      StateCommanded, // appends to the existing command
	{StateCommanded, ActorAgent, IntentProgress}:    StateProcessing,
	{StateProcessing, ActorAgent, IntentProgress}:   StateProcessing, // idempotent
	{StateProcessing, ActorAgent, IntentQuestion}:   StateAwaitingInput,
	{StateProcessing, ActorUser, intentAny}:         StateProcessing, // continued input, never a new command
	{StateAwaitingInput, ActorUser, intentAny}:      StateProcessing,
	{StateProcessing, ActorAgent, IntentCompletion}: StateComplete,
}

// lookup resolves the table, trying the exact intent then the actor
// wildcard.
func lookup(from State, actor Actor, intent Intent) (State, bool) {
	if to, ok := transitions[transitionKey{from, actor, intent}]; ok {
		return to, true
	}
	to, ok := transitions[transitionKey{from, actor, intentAny}]
	return to, ok
}

// Result reports a successful transition.
type Result struct {
	From    State
	To      State
	Command *Command
	Turn    *Turn
}

// Machine drives command lifecycles from inbound turns. All mutations
// for one agent are serialized under that agent's mutex, so turns apply
// in submission order; independent agents proceed concurrently.
type Machine struct {
	store      Store
	classifier Classifier
	bus        *events.Bus

	// enqueueSummary receives summarization requests. Must not block;
	// the default discards them.
	enqueueSummary func(SummaryRequest)

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClassifier replaces the default pattern classifier.
func WithClassifier(c Classifier) Option {
	return func(m *Machine) { m.classifier = c }
}

// WithSummarizer registers the summarization work sink.
func WithSummarizer(fn func(SummaryRequest)) Option {
	return func(m *Machine) { m.enqueueSummary = fn }
}

// NewMachine creates a machine over the given store and event bus.
func NewMachine(store Store, bus *events.Bus, opts ...Option) *Machine {
	m := &Machine{
		store:          store,
		classifier:     PatternClassifier{},
		bus:            bus,
		enqueueSummary: func(SummaryRequest) {},
		locks:          make(map[string]*sync.Mutex),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// agentLock returns the serialization mutex for one agent.
func (m *Machine) agentLock(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[agentID] = l
	}
	return l
}

// Current returns the agent's conversational snapshot. No incomplete
// command means StateIdle, explicitly.
func (m *Machine) Current(ctx context.Context, agentID string) (Snapshot, error) {
	cmd, err := m.store.CurrentCommand(ctx, agentID)
	if err != nil {
		return Snapshot{}, err
	}
	if cmd == nil {
		return Snapshot{State: StateIdle}, nil
	}
	return Snapshot{State: cmd.State, Command: cmd}, nil
}

// ProcessTurn applies one inbound turn: classify, consult the table,
// persist the turn and command mutation atomically, emit events, and
// enqueue any follow-on summarization work. An illegal combination
// returns a *TransitionError and changes nothing.
func (m *Machine) ProcessTurn(ctx context.Context, agentID string, actor Actor, text string) (*Result, error) {
	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := m.Current(ctx, agentID)
	if err != nil {
		return nil, err
	}

	intent := m.classifier.Classify(actor, text, snap.State)

	to, ok := lookup(snap.State, actor, intent)
	if !ok {
		return nil, &TransitionError{AgentID: agentID, From: snap.State, Actor: actor, Intent: intent}
	}

	now := m.now()
	cmd := snap.Command
	turn := &Turn{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Actor:     actor,
		Intent:    intent,
		Text:      text,
		CreatedAt: now,
	}

	err = m.store.WithTx(ctx, func(tx Store) error {
		switch {
		case snap.State == StateIdle:
			cmd = &Command{
				ID:          uuid.NewString(),
				AgentID:     agentID,
				State:       StateCommanded,
				Instruction: text,
				StartedAt:   now,
			}
			if err := tx.CreateCommand(ctx, cmd); err != nil {
				return err
			}
		case snap.State == StateCommanded && intent == IntentCommand:
			// Follow-up before the agent starts: extend the existing
			// command, never open a second one.
			cmd.Instruction += "\n" + text
			cmd.State = to
			if err := tx.UpdateCommand(ctx, cmd); err != nil {
				return err
			}
		default:
			cmd.State = to
			if to == StateComplete {
				cmd.Summary = text
				completed := now
				cmd.CompletedAt = &completed
			}
			if err := tx.UpdateCommand(ctx, cmd); err != nil {
				return err
			}
		}

		turn.CommandID = cmd.ID
		if intent == IntentAnswer {
			if q, err := tx.LastQuestionTurn(ctx, cmd.ID); err == nil && q != nil {
				turn.AnswersTurnID = q.ID
			}
		}
		if to == StateComplete && text == "" {
			// Empty completion text still completes the command but is
			// not worth a turn row.
			turn = nil
			return nil
		}
		return tx.CreateTurn(ctx, turn)
	})
	if err != nil {
		return nil, err
	}

	if turn != nil {
		m.bus.Emit(events.TypeTurnCreated, agentID, turn)
	}
	if snap.State != to {
		m.bus.Emit(events.TypeStateChanged, agentID, map[string]State{"from": snap.State, "to": to})
	}

	switch {
	case to == StateAwaitingInput:
		m.bus.Emit(events.TypeAwaitingInput, agentID, map[string]string{
			"question":    text,
			"instruction": cmd.Instruction,
		})
		m.enqueueSummary(SummaryRequest{
			Kind:        SummaryAwaitingInput,
			AgentID:     agentID,
			CommandID:   cmd.ID,
			Instruction: cmd.Instruction,
			Text:        text,
		})
	case to == StateComplete:
		m.enqueueSummary(SummaryRequest{
			Kind:        SummaryCompletion,
			AgentID:     agentID,
			CommandID:   cmd.ID,
			Instruction: cmd.Instruction,
			Text:        text,
		})
	}

	return &Result{From: snap.State, To: to, Command: cmd, Turn: turn}, nil
}

// CompleteAnswer force-applies an answer for an operator override: the
// turn is recorded and the command is pushed to processing even where
// ProcessTurn would reject the combination. The one line it will not
// cross is a completed command — those are immutable.
func (m *Machine) CompleteAnswer(ctx context.Context, agentID, text string) (*Result, error) {
	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	cmd, err := m.store.CurrentCommand(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, &TransitionError{AgentID: agentID, From: StateIdle, Actor: ActorUser, Intent: IntentAnswer}
	}
	if cmd.State.Terminal() {
		return nil, &TransitionError{AgentID: agentID, From: cmd.State, Actor: ActorUser, Intent: IntentAnswer}
	}

	from := cmd.State
	now := m.now()
	turn := &Turn{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CommandID: cmd.ID,
		Actor:     ActorUser,
		Intent:    IntentAnswer,
		Text:      text,
		CreatedAt: now,
	}

	err = m.store.WithTx(ctx, func(tx Store) error {
		cmd.State = StateProcessing
		if err := tx.UpdateCommand(ctx, cmd); err != nil {
			return err
		}
		if q, err := tx.LastQuestionTurn(ctx, cmd.ID); err == nil && q != nil {
			turn.AnswersTurnID = q.ID
		}
		return tx.CreateTurn(ctx, turn)
	})
	if err != nil {
		return nil, err
	}

	m.bus.Emit(events.TypeTurnCreated, agentID, turn)
	if from != StateProcessing {
		m.bus.Emit(events.TypeStateChanged, agentID, map[string]State{"from": from, "to": StateProcessing})
	}
	return &Result{From: from, To: StateProcessing, Command: cmd, Turn: turn}, nil
}
