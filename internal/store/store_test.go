package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub001/internal/convo"
	"github.com/samotage/claude-headspace-sub001/internal/events"
)

func eventsBusForTest(t *testing.T) *events.Bus {
	t.Helper()
	b := events.NewBus()
	t.Cleanup(b.Close)
	return b
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newAgent(project string) *Agent {
	now := time.Now()
	return &Agent{
		ID:          uuid.NewString(),
		SessionName: "hs-web-" + uuid.NewString()[:8],
		Project:     project,
		StartedAt:   now,
		LastSeenAt:  now,
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := newAgent("/work/web")
	a.Persona = "toast"
	a.PaneID = "%3"
	if err := db.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	got, err := db.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.SessionName != a.SessionName || got.Persona != "toast" || got.PaneID != "%3" {
		t.Errorf("got %+v", got)
	}
	if !got.Live() {
		t.Error("new agent should be live")
	}
	if got.ContextPercent != nil {
		t.Error("context percent should start nil")
	}
}

func TestGetAgentNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetAgent(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEndAgentIsOneShot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := newAgent("/work/web")
	if err := db.CreateAgent(ctx, a); err != nil {
		t.Fatal(err)
	}

	first := time.Now()
	if err := db.EndAgent(ctx, a.ID, first); err != nil {
		t.Fatalf("EndAgent: %v", err)
	}
	err := db.EndAgent(ctx, a.ID, first.Add(time.Hour))
	if !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("second EndAgent err = %v, want ErrAlreadyEnded", err)
	}

	got, _ := db.GetAgent(ctx, a.ID)
	if got.EndedAt == nil {
		t.Fatal("ended_at missing")
	}
	if diff := got.EndedAt.Sub(first); diff > time.Second || diff < -time.Second {
		t.Errorf("ended_at overwritten: %v (want ~%v)", got.EndedAt, first)
	}
}

func TestListLiveAgents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a1, a2 := newAgent("/w1"), newAgent("/w2")
	_ = db.CreateAgent(ctx, a1)
	_ = db.CreateAgent(ctx, a2)
	_ = db.EndAgent(ctx, a1.ID, time.Now())

	live, err := db.ListLiveAgents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].ID != a2.ID {
		t.Errorf("live = %v", live)
	}
}

func TestTouchAgentSkipsEnded(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := newAgent("/w")
	_ = db.CreateAgent(ctx, a)
	_ = db.EndAgent(ctx, a.ID, time.Now())

	if err := db.TouchAgent(ctx, a.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("touch on ended agent: %v, want ErrNotFound", err)
	}
}

func TestAgentContextPercent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := newAgent("/w")
	_ = db.CreateAgent(ctx, a)
	if err := db.SetAgentContext(ctx, a.ID, 34); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetAgent(ctx, a.ID)
	if got.ContextPercent == nil || *got.ContextPercent != 34 {
		t.Errorf("context = %v, want 34", got.ContextPercent)
	}
}

func TestCommandAndTurnRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := newAgent("/w")
	_ = db.CreateAgent(ctx, a)

	cmd := &convo.Command{
		ID:          uuid.NewString(),
		AgentID:     a.ID,
		State:       convo.StateCommanded,
		Instruction: "fix bug",
		StartedAt:   time.Now(),
	}
	if err := db.CreateCommand(ctx, cmd); err != nil {
		t.Fatal(err)
	}

	cur, err := db.CurrentCommand(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur == nil || cur.ID != cmd.ID || cur.State != convo.StateCommanded {
		t.Fatalf("current = %+v", cur)
	}

	q := &convo.Turn{
		ID:        uuid.NewString(),
		AgentID:   a.ID,
		CommandID: cmd.ID,
		Actor:     convo.ActorAgent,
		Intent:    convo.IntentQuestion,
		Text:      "which db?",
		CreatedAt: time.Now(),
	}
	if err := db.CreateTurn(ctx, q); err != nil {
		t.Fatal(err)
	}

	lastQ, err := db.LastQuestionTurn(ctx, cmd.ID)
	if err != nil {
		t.Fatal(err)
	}
	if lastQ == nil || lastQ.ID != q.ID {
		t.Fatalf("last question = %+v", lastQ)
	}

	// Completing removes the command from "current".
	done := time.Now()
	cmd.State = convo.StateComplete
	cmd.CompletedAt = &done
	if err := db.UpdateCommand(ctx, cmd); err != nil {
		t.Fatal(err)
	}
	cur, err = db.CurrentCommand(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur != nil {
		t.Errorf("current after completion = %+v, want nil (idle)", cur)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := newAgent("/w")
	_ = db.CreateAgent(ctx, a)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(s convo.Store) error {
		cmd := &convo.Command{
			ID:        uuid.NewString(),
			AgentID:   a.ID,
			State:     convo.StateCommanded,
			StartedAt: time.Now(),
		}
		if err := s.CreateCommand(ctx, cmd); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	cur, err := db.CurrentCommand(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur != nil {
		t.Error("rolled-back command still visible")
	}
}

func TestMachineOverSQLite(t *testing.T) {
	// The state machine against the real store, end to end.
	db := openTestDB(t)
	ctx := context.Background()

	a := newAgent("/w")
	if err := db.CreateAgent(ctx, a); err != nil {
		t.Fatal(err)
	}

	bus := eventsBusForTest(t)
	m := convo.NewMachine(db, bus)

	if _, err := m.ProcessTurn(ctx, a.ID, convo.ActorUser, "fix bug"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ProcessTurn(ctx, a.ID, convo.ActorAgent, "starting"); err != nil {
		t.Fatal(err)
	}
	res, err := m.ProcessTurn(ctx, a.ID, convo.ActorAgent, "done, shipped it")
	if err != nil {
		t.Fatal(err)
	}
	if res.To != convo.StateComplete {
		t.Errorf("state = %s", res.To)
	}

	turns, err := db.ListTurns(ctx, res.Command.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Errorf("turns = %d, want 3", len(turns))
	}
}

func TestHandoffRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := newAgent("/w")
	_ = db.CreateAgent(ctx, a)

	h := &Handoff{
		ID:            uuid.NewString(),
		AgentID:       a.ID,
		Reason:        "context exhausted",
		ArtifactPath:  "/data/personas/toast/handoff.md",
		PrimingPrompt: "Read /data/personas/toast/handoff.md and resume.",
		CreatedAt:     time.Now(),
	}
	if err := db.CreateHandoff(ctx, h); err != nil {
		t.Fatal(err)
	}

	// Second handoff for the same predecessor is rejected.
	dup := *h
	dup.ID = uuid.NewString()
	if err := db.CreateHandoff(ctx, &dup); !errors.Is(err, ErrHandoffExists) {
		t.Errorf("duplicate handoff err = %v, want ErrHandoffExists", err)
	}

	got, err := db.HandoffByAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ArtifactPath != h.ArtifactPath || got.DeliveredAt != nil {
		t.Errorf("got %+v", got)
	}

	if err := db.SetHandoffSuccessor(ctx, h.ID, "succ-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkHandoffDelivered(ctx, h.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	// Delivery is one-shot.
	if err := db.MarkHandoffDelivered(ctx, h.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delivery err = %v, want ErrNotFound", err)
	}
}
