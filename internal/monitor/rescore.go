package monitor

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/samotage/claude-headspace-sub001/internal/convo"
	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/store"
)

// Inferer is the guarded inference boundary the rescorer scores with.
type Inferer interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// Rescorer runs the expensive, rate-limited priority scoring pass over
// the fleet. Triggers are debounced: rapid repeats collapse into one
// pass; TriggerNow bypasses the window for high-priority callers.
type Rescorer struct {
	db       *store.DB
	client   Inferer
	bus      *events.Bus
	logger   *log.Logger
	debounce *Debouncer
}

// NewRescorer wires a debounced rescorer.
func NewRescorer(db *store.DB, client Inferer, bus *events.Bus, logger *log.Logger, window time.Duration) *Rescorer {
	r := &Rescorer{db: db, client: client, bus: bus, logger: logger}
	r.debounce = NewDebouncer(window, r.rescore)
	return r
}

// Trigger requests a scoring pass; repeated triggers within the window
// coalesce into one.
func (r *Rescorer) Trigger() { r.debounce.Trigger() }

// TriggerNow cancels any pending pass and scores synchronously.
func (r *Rescorer) TriggerNow() { r.debounce.Immediate() }

// Stop cancels any pending pass.
func (r *Rescorer) Stop() { r.debounce.Stop() }

var scoreRe = regexp.MustCompile(`\b(\d{1,3})\b`)

func (r *Rescorer) rescore() {
	ctx := context.Background()
	agents, err := r.db.ListLiveAgents(ctx)
	if err != nil {
		r.logger.Printf("monitor: rescore: listing agents: %v", err)
		return
	}
	for _, a := range agents {
		cmd, err := r.db.CurrentCommand(ctx, a.ID)
		if err != nil {
			r.logger.Printf("monitor: rescore: command for %s: %v", a.ID, err)
			continue
		}
		if cmd == nil {
			continue
		}
		score, err := r.scoreCommand(ctx, cmd)
		if err != nil {
			r.logger.Printf("monitor: rescore: scoring %s: %v", a.ID, err)
			continue
		}
		r.bus.Emit(events.TypePriorityUpdated, a.ID, score)
	}
}

// scoreCommand asks the inference boundary for a 0-100 urgency score
// for one command. Identical commands hit the result cache, so repeat
// passes over an unchanged fleet are cheap.
func (r *Rescorer) scoreCommand(ctx context.Context, cmd *convo.Command) (int, error) {
	prompt := fmt.Sprintf(
		"Rate the urgency of this coding task from 0 to 100, where 100 is "+
			"blocking-everything urgent. Reply with only the number.\n\n"+
			"State: %s\nTask: %s",
		cmd.State, cmd.Instruction)
	text, err := r.client.Infer(ctx, prompt)
	if err != nil {
		return 0, err
	}
	m := scoreRe.FindString(strings.TrimSpace(text))
	if m == "" {
		return 0, fmt.Errorf("no score in response %q", text)
	}
	score, err := strconv.Atoi(m)
	if err != nil || score > 100 {
		return 0, fmt.Errorf("bad score in response %q", text)
	}
	return score, nil
}
