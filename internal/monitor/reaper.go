package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/store"
)

// Reaper ends agents that have gone silent. Two conditions must both
// hold: the agent's last-seen is older than the inactivity timeout AND
// the agent itself is older than the grace period, so a just-created
// agent that has not yet reported in is never reaped.
type Reaper struct {
	db       *store.DB
	bus      *events.Bus
	logger   *log.Logger
	interval time.Duration
	timeout  time.Duration
	grace    time.Duration

	now func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewReaper builds an inactivity reaper.
func NewReaper(db *store.DB, bus *events.Bus, logger *log.Logger, interval, timeout, grace time.Duration) *Reaper {
	return &Reaper{
		db:       db,
		bus:      bus,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		grace:    grace,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run loops until Stop is called.
func (r *Reaper) Run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.ReapOnce(context.Background())
		}
	}
}

// Stop signals the loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// ReapOnce sweeps live agents and ends the inactive ones. Returns the
// ids of agents ended this pass. Per-agent failures are logged and the
// sweep continues.
func (r *Reaper) ReapOnce(ctx context.Context) []string {
	agents, err := r.db.ListLiveAgents(ctx)
	if err != nil {
		r.logger.Printf("monitor: reap: listing agents: %v", err)
		return nil
	}
	now := r.now()
	var ended []string
	for _, a := range agents {
		if now.Sub(a.LastSeenAt) <= r.timeout || now.Sub(a.StartedAt) <= r.grace {
			continue
		}
		if err := r.db.EndAgent(ctx, a.ID, now); err != nil {
			r.logger.Printf("monitor: reap: ending %s: %v", a.ID, err)
			continue
		}
		r.bus.Emit(events.TypeAgentEnded, a.ID, "reaped")
		r.logger.Printf("monitor: reaped agent %s (last seen %s)", a.ID, a.LastSeenAt.Format(time.RFC3339))
		ended = append(ended, a.ID)
	}
	return ended
}
