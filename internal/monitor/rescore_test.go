package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub001/internal/convo"
	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/store"
)

type fakeInferer struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (f *fakeInferer) Infer(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, nil
}

func seedCommand(t *testing.T, db *store.DB, agentID string) {
	t.Helper()
	err := db.CreateCommand(context.Background(), &convo.Command{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		State:       convo.StateProcessing,
		Instruction: "fix the flaky auth test",
		StartedAt:   time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRescorerEmitsPriority(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	agent := seedAgent(t, db, "%1", now, now)
	seedCommand(t, db, agent.ID)

	bus := events.NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	client := &fakeInferer{reply: "85"}
	r := NewRescorer(db, client, bus, discard(), 10*time.Millisecond)
	defer r.Stop()

	r.TriggerNow()

	got := drain(ch)
	if len(got) != 1 || got[0].Type != events.TypePriorityUpdated {
		t.Fatalf("events = %v", got)
	}
	if got[0].AgentID != agent.ID || got[0].Data != 85 {
		t.Errorf("event = %+v, want score 85 for %s", got[0], agent.ID)
	}
}

func TestRescorerSkipsIdleAgents(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	seedAgent(t, db, "%1", now, now) // no command: idle

	bus := events.NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	client := &fakeInferer{reply: "85"}
	r := NewRescorer(db, client, bus, discard(), 10*time.Millisecond)
	defer r.Stop()

	r.TriggerNow()

	if got := drain(ch); len(got) != 0 {
		t.Errorf("events for idle fleet = %v", got)
	}
	if client.calls != 0 {
		t.Errorf("inference called %d times for an idle fleet", client.calls)
	}
}

func TestRescorerCoalescesTriggers(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	agent := seedAgent(t, db, "%1", now, now)
	seedCommand(t, db, agent.ID)

	client := &fakeInferer{reply: "50"}
	r := NewRescorer(db, client, events.NewBus(), discard(), 30*time.Millisecond)
	defer r.Stop()

	for i := 0; i < 5; i++ {
		r.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)

	client.mu.Lock()
	calls := client.calls
	client.mu.Unlock()
	if calls != 1 {
		t.Errorf("scoring pass ran %d times, want 1", calls)
	}
}

func TestScoreCommandParsesReply(t *testing.T) {
	db := testStore(t)
	tests := []struct {
		reply   string
		want    int
		wantErr bool
	}{
		{"85", 85, false},
		{" 42\n", 42, false},
		{"Priority: 90", 90, false},
		{"no idea", 0, true},
		{"900", 0, true},
	}
	for _, tt := range tests {
		r := NewRescorer(db, &fakeInferer{reply: tt.reply}, events.NewBus(), discard(), time.Hour)
		got, err := r.scoreCommand(context.Background(), &convo.Command{Instruction: "x", State: convo.StateProcessing})
		r.Stop()
		if (err != nil) != tt.wantErr {
			t.Errorf("scoreCommand(%q) err = %v", tt.reply, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("scoreCommand(%q) = %d, want %d", tt.reply, got, tt.want)
		}
	}
}
