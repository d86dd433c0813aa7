package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/store"
	"github.com/samotage/claude-headspace-sub001/internal/tmux"
)

// Sweeper maintains a cached availability boolean per agent and emits a
// notification only when the value flips. Consumers must not expect a
// notification on every poll.
type Sweeper struct {
	db        *store.DB
	bridge    Bridge
	bus       *events.Bus
	logger    *log.Logger
	workerCmd string
	interval  time.Duration

	mu    sync.Mutex
	cache map[string]bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSweeper builds an availability sweeper.
func NewSweeper(db *store.DB, bridge Bridge, bus *events.Bus, logger *log.Logger, workerCmd string, interval time.Duration) *Sweeper {
	return &Sweeper{
		db:        db,
		bridge:    bridge,
		bus:       bus,
		logger:    logger,
		workerCmd: workerCmd,
		interval:  interval,
		cache:     make(map[string]bool),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run loops until Stop is called.
func (s *Sweeper) Run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepOnce(context.Background())
		}
	}
}

// Stop signals the loop and waits for the current iteration to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// SweepOnce re-checks every live agent's pane. Exported for on-demand
// checks; the background loop calls it on each tick.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	agents, err := s.db.ListLiveAgents(ctx)
	if err != nil {
		s.logger.Printf("monitor: sweep: listing agents: %v", err)
		return
	}
	for _, a := range agents {
		if a.PaneID == "" {
			continue
		}
		health, err := s.bridge.CheckHealth(ctx, a.PaneID, s.workerCmd)
		switch {
		case errors.Is(err, tmux.ErrNoServer), errors.Is(err, tmux.ErrSessionNotFound):
			// Server or pane definitively gone: unavailable, not unknown.
			// Skipping here would leave a cached true stale for as long
			// as the server stays down.
			s.record(a.ID, false)
			continue
		case err != nil:
			s.logger.Printf("monitor: sweep: health check for %s: %v", a.ID, err)
			continue
		}
		s.record(a.ID, health.Exists && health.Running)
	}
}

// record updates the cached value and emits only on transition.
func (s *Sweeper) record(agentID string, available bool) {
	s.mu.Lock()
	prev, known := s.cache[agentID]
	s.cache[agentID] = available
	s.mu.Unlock()

	if known && prev == available {
		return
	}
	s.bus.Emit(events.TypeAvailabilityChanged, agentID, available)
	s.logger.Printf("monitor: agent %s availability -> %v", agentID, available)
}

// Available returns the cached availability for an agent. The second
// return is false when the agent has never been swept.
func (s *Sweeper) Available(agentID string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[agentID]
	return v, ok
}

// Forget drops the cached entry for an ended agent.
func (s *Sweeper) Forget(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, agentID)
}
