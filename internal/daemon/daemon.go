// Package daemon hosts the background coordinator loops as one service:
// availability sweep, inactivity reaper, context-usage polling, worker
// exit observation, and orphan detection. One daemon per data dir,
// enforced by a file lock.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/samotage/claude-headspace-sub001/internal/config"
	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/fleet"
	"github.com/samotage/claude-headspace-sub001/internal/infer"
	"github.com/samotage/claude-headspace-sub001/internal/monitor"
	"github.com/samotage/claude-headspace-sub001/internal/ratelimit"
	"github.com/samotage/claude-headspace-sub001/internal/store"
	"github.com/samotage/claude-headspace-sub001/internal/tmux"
)

// heartbeatInterval paces the daemon's own reconciliation pass (worker
// exits, orphans). The monitor loops run on their own intervals.
const heartbeatInterval = 30 * time.Second

// Daemon is the background service.
type Daemon struct {
	cfg    *config.Config
	db     *store.DB
	bus    *events.Bus
	fleet  *fleet.Manager
	logger *log.Logger

	sweeper  *monitor.Sweeper
	reaper   *monitor.Reaper
	usage    *monitor.UsagePoller
	rescorer *monitor.Rescorer

	ctx    context.Context
	cancel context.CancelFunc

	// hasSession is injectable for tests; defaults to the real bridge.
	hasSession func(ctx context.Context, session string) (bool, error)
}

// New builds a daemon: opens the log file and database and wires the
// coordinator loops.
func New(cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Daemon.LogFile), 0755); err != nil {
		return nil, fmt.Errorf("creating daemon directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.Daemon.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := log.New(logFile, "", log.LstdFlags)

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	bridge := tmux.New()
	bridge.CommandTimeout = cfg.Bridge.CommandTimeout.Std()
	bridge.EnterDelay = cfg.Bridge.EnterDelay.Std()
	bridge.KeyDelay = cfg.Bridge.KeyDelay.Std()

	bus := events.NewBus()
	mgr := fleet.NewManager(cfg, db, bridge, bus, logger)

	scorer := infer.NewClient(
		infer.NewCLIBackend(cfg.WorkerCommand, 0),
		ratelimit.NewLimiter(cfg.RateLimit.CallsPerMinute, cfg.RateLimit.TokensPerMinute),
		ratelimit.NewCache(cfg.RateLimit.CacheTTL.Std()),
		infer.Options{
			Model:      cfg.Infer.Model,
			MaxRetries: cfg.Infer.MaxRetries,
			BackoffMin: cfg.Infer.BackoffMin.Std(),
			BackoffMax: cfg.Infer.BackoffMax.Std(),
		})

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		cfg:        cfg,
		db:         db,
		bus:        bus,
		fleet:      mgr,
		logger:     logger,
		sweeper:    monitor.NewSweeper(db, bridge, bus, logger, cfg.WorkerCommand, cfg.Monitor.SweepInterval.Std()),
		reaper:     monitor.NewReaper(db, bus, logger, cfg.Monitor.ReapInterval.Std(), cfg.Monitor.InactivityTimeout.Std(), cfg.Monitor.GracePeriod.Std()),
		usage:      monitor.NewUsagePoller(db, bridge, logger, cfg.Monitor.UsagePollInterval.Std()),
		rescorer:   monitor.NewRescorer(db, scorer, bus, logger, cfg.Monitor.DebounceWindow.Std()),
		ctx:        ctx,
		cancel:     cancel,
		hasSession: bridge.HasSession,
	}, nil
}

// Run acquires the singleton lock and runs until signaled. The file
// lock, not the PID file, is what prevents duplicate daemons; the PID
// file exists for status checks and stop.
func (d *Daemon) Run() error {
	d.logger.Printf("daemon starting (pid %d)", os.Getpid())

	fileLock := flock.New(d.cfg.Daemon.LockFile)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := os.WriteFile(d.cfg.Daemon.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(d.cfg.Daemon.PidFile) }()

	state := &State{Running: true, PID: os.Getpid(), StartedAt: time.Now()}
	if err := SaveState(d.cfg.DataDir, state); err != nil {
		d.logger.Printf("warning: saving state: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go d.sweeper.Run()
	go d.reaper.Run()
	go d.usage.Run()

	// Fleet changes demand rescoring; coalesce bursts through the
	// debouncer, but score dead agents' survivors right away.
	eventCh, unsubscribe := d.bus.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range eventCh {
			switch ev.Type {
			case events.TypeAgentEnded:
				d.rescorer.TriggerNow()
			case events.TypeAvailabilityChanged, events.TypeHandoffCompleted:
				d.rescorer.Trigger()
			}
		}
	}()
	d.logger.Printf("daemon running, heartbeat interval %v", heartbeatInterval)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	d.heartbeat(state)
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Println("daemon context canceled, shutting down")
			return d.shutdown(state)
		case sig := <-sigChan:
			d.logger.Printf("received signal %v, shutting down", sig)
			return d.shutdown(state)
		case <-ticker.C:
			d.heartbeat(state)
		}
	}
}

// Stop signals the daemon to stop.
func (d *Daemon) Stop() { d.cancel() }

// heartbeat runs one reconciliation pass: bind panes to newly spawned
// agents, deliver pending successor priming, observe worker exits,
// report orphaned sessions.
func (d *Daemon) heartbeat(state *State) {
	ctx, cancel := context.WithTimeout(d.ctx, heartbeatInterval)
	defer cancel()

	d.checkRegistrations(ctx)
	d.checkWorkerExits(ctx)
	d.checkOrphans(ctx)

	state.LastHeartbeat = time.Now()
	state.HeartbeatCount++
	if err := SaveState(d.cfg.DataDir, state); err != nil {
		d.logger.Printf("warning: saving state: %v", err)
	}
}

// checkRegistrations binds panes to live agents spawned since the last
// pass, then delivers any pending successor priming. Create is
// fire-and-forget, so pane binding is this loop's job; priming is
// idempotent (the delivery stamp makes repeats a no-op), so it runs for
// every live successor each pass.
func (d *Daemon) checkRegistrations(ctx context.Context) {
	bound, err := d.fleet.ResolvePanes(ctx)
	if err != nil {
		d.logger.Printf("registration check: resolving panes: %v", err)
		return
	}
	for _, a := range bound {
		d.logger.Printf("registration check: agent %s bound to pane %s", a.ID, a.PaneID)
	}

	agents, err := d.db.ListLiveAgents(ctx)
	if err != nil {
		d.logger.Printf("registration check: listing agents: %v", err)
		return
	}
	for _, a := range agents {
		if a.PredecessorID == "" || a.PaneID == "" {
			continue
		}
		if err := d.fleet.PrimeSuccessor(ctx, a.ID); err != nil {
			d.logger.Printf("registration check: priming successor %s: %v", a.ID, err)
		}
	}
}

// checkWorkerExits marks agents whose tmux session is gone as ended and
// runs any pending handoff continuation. One bad agent never stops the
// pass.
func (d *Daemon) checkWorkerExits(ctx context.Context) {
	agents, err := d.db.ListLiveAgents(ctx)
	if err != nil {
		d.logger.Printf("exit check: listing agents: %v", err)
		return
	}
	for _, a := range agents {
		alive, err := d.hasSession(ctx, a.SessionName)
		if err != nil {
			d.logger.Printf("exit check: session %s: %v", a.SessionName, err)
			continue
		}
		if alive {
			continue
		}
		if err := d.fleet.ObserveExit(ctx, a.ID); err != nil {
			d.logger.Printf("exit check: observing exit of %s: %v", a.ID, err)
			continue
		}
		d.sweeper.Forget(a.ID)
	}
}

// checkOrphans logs fleet-prefixed sessions with no registered agent.
func (d *Daemon) checkOrphans(ctx context.Context) {
	orphans, err := d.fleet.FindOrphans(ctx)
	if err != nil {
		d.logger.Printf("orphan check: %v", err)
		return
	}
	for _, p := range orphans {
		d.logger.Printf("orphan check: session %s (pane %s, %s) has no registered agent", p.Session, p.PaneID, p.Command)
	}
}

// shutdown stops the loops and records the final state.
func (d *Daemon) shutdown(state *State) error {
	d.sweeper.Stop()
	d.reaper.Stop()
	d.usage.Stop()
	d.rescorer.Stop()
	d.bus.Close()

	state.Running = false
	if err := SaveState(d.cfg.DataDir, state); err != nil {
		d.logger.Printf("warning: saving final state: %v", err)
	}
	if err := d.db.Close(); err != nil {
		d.logger.Printf("warning: closing database: %v", err)
	}
	d.logger.Println("daemon stopped")
	return nil
}

// IsRunning reports whether a daemon holds the PID file and is alive.
// The file lock in Run is the authoritative duplicate guard; this is
// for status checks.
func IsRunning(cfg *config.Config) (bool, int, error) {
	data, err := os.ReadFile(cfg.Daemon.PidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, fmt.Errorf("invalid PID file contents %q: %w", strings.TrimSpace(string(data)), err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}
	// On Unix FindProcess always succeeds; signal 0 probes liveness.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(cfg.Daemon.PidFile)
		return false, 0, nil
	}
	return true, pid, nil
}

// StopDaemon asks a running daemon to exit with SIGTERM, escalating to
// SIGKILL if it lingers.
func StopDaemon(cfg *config.Config) error {
	running, pid, err := IsRunning(cfg)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}
	time.Sleep(2 * time.Second)
	if err := process.Signal(syscall.Signal(0)); err == nil {
		_ = process.Signal(syscall.SIGKILL)
	}
	_ = os.Remove(cfg.Daemon.PidFile)
	return nil
}
