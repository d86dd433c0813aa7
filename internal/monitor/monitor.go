// Package monitor hosts the background coordinator loops: the pane
// availability sweep, the inactivity reaper, the debounced rescore
// trigger, and the context-usage poller. Each loop runs independently,
// stops cooperatively, and contains per-agent failures so one bad agent
// never stalls a sweep for the rest of the fleet.
package monitor

import (
	"context"

	"github.com/samotage/claude-headspace-sub001/internal/tmux"
)

// Bridge is the slice of the tmux surface the monitor loops read from.
type Bridge interface {
	CheckHealth(ctx context.Context, pane, workerCmd string) (tmux.Health, error)
	CapturePane(ctx context.Context, pane string, lines int) (string, error)
}
