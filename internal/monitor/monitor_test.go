package monitor

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/store"
	"github.com/samotage/claude-headspace-sub001/internal/tmux"
)

// fakeBridge serves scripted health and capture results keyed by pane.
type fakeBridge struct {
	mu        sync.Mutex
	health    map[string]tmux.Health
	healthErr map[string]error
	content   map[string]string
}

func (f *fakeBridge) CheckHealth(_ context.Context, pane, _ string) (tmux.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.healthErr[pane]; err != nil {
		return tmux.Health{}, err
	}
	return f.health[pane], nil
}

func (f *fakeBridge) CapturePane(_ context.Context, pane string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[pane], nil
}

func (f *fakeBridge) setHealth(pane string, h tmux.Health) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health[pane] = h
}

func (f *fakeBridge) setHealthErr(pane string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healthErr == nil {
		f.healthErr = make(map[string]error)
	}
	f.healthErr[pane] = err
}

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAgent(t *testing.T, db *store.DB, pane string, started, lastSeen time.Time) *store.Agent {
	t.Helper()
	a := &store.Agent{
		ID:          uuid.NewString(),
		SessionName: "hs-test-" + uuid.NewString()[:8],
		PaneID:      pane,
		Project:     "/tmp/work",
		StartedAt:   started,
		LastSeenAt:  lastSeen,
	}
	if err := db.CreateAgent(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestSweepEmitsOnlyOnTransition(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	agent := seedAgent(t, db, "%1", now, now)

	bridge := &fakeBridge{health: map[string]tmux.Health{
		"%1": {Exists: true, Running: true},
	}}
	bus := events.NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	s := NewSweeper(db, bridge, bus, discard(), "claude", time.Hour)
	ctx := context.Background()

	// First sweep establishes the cached value: one notification.
	s.SweepOnce(ctx)
	if got := drain(ch); len(got) != 1 || got[0].Type != events.TypeAvailabilityChanged {
		t.Fatalf("first sweep events = %v", got)
	}
	if v, ok := s.Available(agent.ID); !ok || !v {
		t.Errorf("cached availability = %v, %v", v, ok)
	}

	// Same result: no notification.
	s.SweepOnce(ctx)
	if got := drain(ch); len(got) != 0 {
		t.Errorf("unchanged sweep events = %v", got)
	}

	// Pane dies: exactly one notification for the flip.
	bridge.setHealth("%1", tmux.Health{Exists: false})
	s.SweepOnce(ctx)
	got := drain(ch)
	if len(got) != 1 || got[0].Data != false {
		t.Fatalf("flip events = %v", got)
	}

	// Dead stays dead: silent again.
	s.SweepOnce(ctx)
	if got := drain(ch); len(got) != 0 {
		t.Errorf("repeat-dead sweep events = %v", got)
	}
}

func TestSweepFlipsUnavailableWhenServerGone(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	agent := seedAgent(t, db, "%1", now, now)

	bridge := &fakeBridge{health: map[string]tmux.Health{
		"%1": {Exists: true, Running: true},
	}}
	bus := events.NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	s := NewSweeper(db, bridge, bus, discard(), "claude", time.Hour)
	ctx := context.Background()

	s.SweepOnce(ctx)
	drain(ch)

	// Server down is a definitive answer, not an unknown: the cached
	// true flips to false instead of going stale.
	bridge.setHealthErr("%1", tmux.ErrNoServer)
	s.SweepOnce(ctx)
	got := drain(ch)
	if len(got) != 1 || got[0].Data != false {
		t.Fatalf("server-gone sweep events = %v", got)
	}
	if v, ok := s.Available(agent.ID); !ok || v {
		t.Errorf("cached availability = %v, %v, want false", v, ok)
	}

	// An unclassified failure keeps the cached value and stays silent.
	bridge.setHealthErr("%1", errors.New("scripted failure"))
	s.SweepOnce(ctx)
	if got := drain(ch); len(got) != 0 {
		t.Errorf("unclassified-failure sweep events = %v", got)
	}
}

func TestSweepSkipsAgentsWithoutPane(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	agent := seedAgent(t, db, "", now, now)

	bridge := &fakeBridge{health: map[string]tmux.Health{}}
	s := NewSweeper(db, bridge, events.NewBus(), discard(), "claude", time.Hour)
	s.SweepOnce(context.Background())

	if _, ok := s.Available(agent.ID); ok {
		t.Error("availability cached for a pane-less agent")
	}
}

func TestReaperRequiresBothConditions(t *testing.T) {
	db := testStore(t)
	now := time.Now()

	// Old and silent: reaped.
	stale := seedAgent(t, db, "%1", now.Add(-time.Hour), now.Add(-10*time.Minute))
	// Silent but within grace period: spared.
	fresh := seedAgent(t, db, "%2", now.Add(-time.Minute), now.Add(-10*time.Minute))
	// Old but recently active: spared.
	active := seedAgent(t, db, "%3", now.Add(-time.Hour), now.Add(-time.Minute))

	r := NewReaper(db, events.NewBus(), discard(), time.Hour, 5*time.Minute, 5*time.Minute)
	r.now = func() time.Time { return now }

	ended := r.ReapOnce(context.Background())
	if len(ended) != 1 || ended[0] != stale.ID {
		t.Fatalf("ended = %v, want [%s]", ended, stale.ID)
	}

	ctx := context.Background()
	for _, tc := range []struct {
		agent *store.Agent
		live  bool
	}{
		{stale, false},
		{fresh, true},
		{active, true},
	} {
		got, err := db.GetAgent(ctx, tc.agent.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Live() != tc.live {
			t.Errorf("agent %s live = %v, want %v", tc.agent.ID, got.Live(), tc.live)
		}
	}
}

func TestReaperEmitsAgentEnded(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	seedAgent(t, db, "%1", now.Add(-time.Hour), now.Add(-time.Hour))

	bus := events.NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	r := NewReaper(db, bus, discard(), time.Hour, 5*time.Minute, 5*time.Minute)
	r.now = func() time.Time { return now }
	r.ReapOnce(context.Background())

	got := drain(ch)
	if len(got) != 1 || got[0].Type != events.TypeAgentEnded {
		t.Errorf("events = %v", got)
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	d := NewDebouncer(30*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer d.Stop()

	// Rapid triggers collapse into one firing.
	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	got := fired
	mu.Unlock()
	if got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
}

func TestDebouncerImmediateCancelsPending(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	d := NewDebouncer(50*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer d.Stop()

	d.Trigger()
	d.Immediate() // fires synchronously, cancels the pending timer

	mu.Lock()
	got := fired
	mu.Unlock()
	if got != 1 {
		t.Fatalf("fired %d times after Immediate, want 1", got)
	}

	// The cancelled timer must not fire later.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	got = fired
	mu.Unlock()
	if got != 1 {
		t.Errorf("fired %d times total, want 1", got)
	}
}

func TestDebouncerSupersededTimerDoesNotFire(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	d := NewDebouncer(time.Hour, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer d.Stop()

	// A timer callback can slip past Stop and run after a newer Trigger
	// replaced it. Capture its generation, supersede it, then run the
	// stale callback directly.
	d.Trigger()
	d.mu.Lock()
	stale := d.gen
	d.mu.Unlock()
	d.Trigger()

	d.fire(stale)
	mu.Lock()
	got := fired
	mu.Unlock()
	if got != 0 {
		t.Fatalf("stale timer fired %d times, want 0", got)
	}

	d.mu.Lock()
	current := d.gen
	d.mu.Unlock()
	d.fire(current)
	mu.Lock()
	got = fired
	mu.Unlock()
	if got != 1 {
		t.Errorf("current timer fired %d times, want 1", got)
	}
}

func TestUsagePollerStoresReading(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	agent := seedAgent(t, db, "%1", now, now)

	bridge := &fakeBridge{
		health:  map[string]tmux.Health{},
		content: map[string]string{"%1": "some output\nContext left until auto-compact: 34%\n"},
	}
	p := NewUsagePoller(db, bridge, discard(), time.Hour)
	p.PollOnce(context.Background())

	got, err := db.GetAgent(context.Background(), agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ContextPercent == nil || *got.ContextPercent != 34 {
		t.Errorf("context percent = %v, want 34", got.ContextPercent)
	}
}

func TestUsagePollerSkipsPanesWithoutIndicator(t *testing.T) {
	db := testStore(t)
	now := time.Now()
	agent := seedAgent(t, db, "%1", now, now)

	bridge := &fakeBridge{
		health:  map[string]tmux.Health{},
		content: map[string]string{"%1": "just normal build output\n"},
	}
	p := NewUsagePoller(db, bridge, discard(), time.Hour)
	p.PollOnce(context.Background())

	got, err := db.GetAgent(context.Background(), agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ContextPercent != nil {
		t.Errorf("context percent = %v, want nil", got.ContextPercent)
	}
}

func TestLoopsStopCooperatively(t *testing.T) {
	db := testStore(t)
	bridge := &fakeBridge{health: map[string]tmux.Health{}}
	bus := events.NewBus()

	s := NewSweeper(db, bridge, bus, discard(), "claude", 10*time.Millisecond)
	r := NewReaper(db, bus, discard(), 10*time.Millisecond, time.Minute, time.Minute)
	p := NewUsagePoller(db, bridge, discard(), 10*time.Millisecond)

	go s.Run()
	go r.Run()
	go p.Run()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		r.Stop()
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loops did not stop")
	}
}
