package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/samotage/claude-headspace-sub001/internal/store"
	"github.com/samotage/claude-headspace-sub001/internal/tmux"
)

// usageCaptureLines is how much pane history to scan for the worker's
// context status line; it sits at the bottom of the screen.
const usageCaptureLines = 20

// UsagePoller periodically parses each live agent's pane for the
// worker's remaining-context indicator and stores the reading on the
// agent record.
type UsagePoller struct {
	db       *store.DB
	bridge   Bridge
	logger   *log.Logger
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewUsagePoller builds a context-usage poller.
func NewUsagePoller(db *store.DB, bridge Bridge, logger *log.Logger, interval time.Duration) *UsagePoller {
	return &UsagePoller{
		db:       db,
		bridge:   bridge,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run loops until Stop is called.
func (p *UsagePoller) Run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.PollOnce(context.Background())
		}
	}
}

// Stop signals the loop and waits for it to exit.
func (p *UsagePoller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// PollOnce captures each live agent's pane and records any parsed
// context-remaining percentage. Panes with no recognizable status line
// are skipped silently; it is normal for the indicator to be absent.
func (p *UsagePoller) PollOnce(ctx context.Context) {
	agents, err := p.db.ListLiveAgents(ctx)
	if err != nil {
		p.logger.Printf("monitor: usage poll: listing agents: %v", err)
		return
	}
	for _, a := range agents {
		if a.PaneID == "" {
			continue
		}
		content, err := p.bridge.CapturePane(ctx, a.PaneID, usageCaptureLines)
		if err != nil {
			p.logger.Printf("monitor: usage poll: capture for %s: %v", a.ID, err)
			continue
		}
		pct, ok := tmux.ParseContextRemaining(content)
		if !ok {
			continue
		}
		if a.ContextPercent != nil && *a.ContextPercent == pct {
			continue
		}
		if err := p.db.SetAgentContext(ctx, a.ID, pct); err != nil {
			p.logger.Printf("monitor: usage poll: storing reading for %s: %v", a.ID, err)
		}
	}
}
