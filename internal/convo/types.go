// Package convo models the conversational lifecycle of an agent: the
// Command/Turn state machine that is the authoritative answer to "what
// is this worker doing right now". Turn events are the sole input; how
// they arrive (hooks, transcripts, operators) is not this package's
// business.
package convo

import "time"

// Actor is who produced a turn.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAgent Actor = "agent"
)

// Intent classifies what a turn is doing.
type Intent string

const (
	IntentCommand    Intent = "command"
	IntentQuestion   Intent = "question"
	IntentAnswer     Intent = "answer"
	IntentProgress   Intent = "progress"
	IntentCompletion Intent = "completion"
)

// State is the lifecycle state of an agent's conversation. StateIdle is
// explicit: it means no incomplete command exists, and is never
// represented by a nil check at call sites.
type State string

const (
	StateIdle          State = "idle"
	StateCommanded     State = "commanded"
	StateProcessing    State = "processing"
	StateAwaitingInput State = "awaiting_input"
	StateComplete      State = "complete"
)

// Terminal reports whether a state admits no further transitions.
func (s State) Terminal() bool { return s == StateComplete }

// Command is one unit of conversational work owned by exactly one agent.
// At most one non-terminal command exists per agent at any time. A
// command becomes immutable once complete.
type Command struct {
	ID          string
	AgentID     string
	State       State
	Instruction string
	Summary     string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Turn is one atomic conversational event. Turns are append-only and
// immutable after creation.
type Turn struct {
	ID        string
	AgentID   string
	CommandID string
	Actor     Actor
	Intent    Intent
	Text      string
	CreatedAt time.Time

	// AnswersTurnID links an answer back to the question it resolves.
	AnswersTurnID string
}

// Snapshot is the current conversational position of one agent: its
// state plus the live command, nil only when idle.
type Snapshot struct {
	State   State
	Command *Command
}
