// Package tmux drives worker terminal panes through the tmux command-line
// tool. It is a stateless protocol adapter: every method shells out to
// tmux, classifies failures into stable sentinel errors, and parses the
// visible output. Callers branch on the sentinels, never on error text.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Stable failure classification. Absence of the tmux binary, absence of
// the tmux server, and absence of the named pane are distinct conditions.
var (
	ErrNotInstalled    = errors.New("tmux not installed")
	ErrNoServer        = errors.New("tmux server not running")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrTimeout         = errors.New("tmux command timed out")
	ErrSendFailed      = errors.New("send to pane failed")
)

// runFunc executes a tmux invocation and returns stdout, stderr.
// Injectable for tests; the default shells out to the real binary.
type runFunc func(ctx context.Context, args ...string) (string, string, error)

// Tmux is a handle for driving tmux. Zero state beyond timing knobs; safe
// for concurrent use.
type Tmux struct {
	// CommandTimeout bounds each tmux invocation.
	CommandTimeout time.Duration

	// EnterDelay separates literal text from the Enter keystroke in
	// SendText. See SendText for why the split matters.
	EnterDelay time.Duration

	// KeyDelay separates named keystrokes in SendKeys.
	KeyDelay time.Duration

	run runFunc
}

// New returns a Tmux with default timing.
func New() *Tmux {
	t := &Tmux{
		CommandTimeout: 10 * time.Second,
		EnterDelay:     300 * time.Millisecond,
		KeyDelay:       100 * time.Millisecond,
	}
	t.run = t.execTmux
	return t
}

// execTmux shells out to tmux with the configured timeout.
func (t *Tmux) execTmux(ctx context.Context, args ...string) (string, string, error) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return "", "", ErrNotInstalled
	}
	ctx, cancel := context.WithTimeout(ctx, t.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), ErrTimeout
	}
	return stdout.String(), stderr.String(), err
}

// wrapError classifies a failed tmux invocation from its stderr.
func wrapError(err error, stderr string, args []string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotInstalled) || errors.Is(err, ErrTimeout) {
		return err
	}
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "no server running"),
		strings.Contains(s, "error connecting to"):
		return ErrNoServer
	case strings.Contains(s, "duplicate session"):
		return ErrSessionExists
	case strings.Contains(s, "session not found"),
		strings.Contains(s, "can't find session"),
		strings.Contains(s, "can't find pane"):
		return ErrSessionNotFound
	}
	return fmt.Errorf("tmux %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(stderr))
}

// do runs a tmux command and classifies any failure.
func (t *Tmux) do(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, err := t.run(ctx, args...)
	if err != nil {
		return stdout, wrapError(err, stderr, args)
	}
	return stdout, nil
}

// HasSession reports whether the named session exists. A missing server
// means no sessions exist; that is not an error here.
func (t *Tmux) HasSession(ctx context.Context, session string) (bool, error) {
	_, err := t.do(ctx, "has-session", "-t", exactTarget(session))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoServer), errors.Is(err, ErrSessionNotFound):
		return false, nil
	}
	// has-session exits 1 for unknown sessions on some tmux versions
	// without a recognizable stderr line.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// ListSessions returns the names of all live sessions. No server means
// an empty list.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	out, err := t.do(ctx, "list-sessions", "-F", "#{session_name}")
	if errors.Is(err, ErrNoServer) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return splitNonEmpty(out), nil
}

// PaneInfo describes one live pane: enough to reconcile expected vs
// actual workers and resolve a pane back to its session.
type PaneInfo struct {
	Session string
	PaneID  string
	Command string // foreground process name
	PID     int
	WorkDir string
}

// ListPanes enumerates every live pane across all sessions.
func (t *Tmux) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	out, err := t.do(ctx, "list-panes", "-a", "-F",
		"#{session_name}\t#{pane_id}\t#{pane_current_command}\t#{pane_pid}\t#{pane_current_path}")
	if errors.Is(err, ErrNoServer) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var panes []PaneInfo
	for _, line := range splitNonEmpty(out) {
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			continue
		}
		pid, _ := strconv.Atoi(fields[3])
		panes = append(panes, PaneInfo{
			Session: fields[0],
			PaneID:  fields[1],
			Command: fields[2],
			PID:     pid,
			WorkDir: fields[4],
		})
	}
	return panes, nil
}

// NewSessionDetached creates a detached session running command in dir.
// Environment variables are prepended to the command so the initial
// process inherits them (set-environment only affects later panes).
func (t *Tmux) NewSessionDetached(ctx context.Context, session, dir, command string, env map[string]string) error {
	if len(env) > 0 {
		command = prependEnv(command, env)
	}
	args := []string{"new-session", "-d", "-s", session}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	_, err := t.do(ctx, args...)
	return err
}

// KillSession kills the named session.
func (t *Tmux) KillSession(ctx context.Context, session string) error {
	_, err := t.do(ctx, "kill-session", "-t", exactTarget(session))
	return err
}

// PanePID returns the pane's shell process id, the root of the pane's
// process group.
func (t *Tmux) PanePID(ctx context.Context, pane string) (int, error) {
	out, err := t.do(ctx, "display-message", "-p", "-t", pane, "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	pid, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, fmt.Errorf("parsing pane pid %q: %w", strings.TrimSpace(out), convErr)
	}
	return pid, nil
}

// PaneCommand returns the pane's foreground process name.
func (t *Tmux) PaneCommand(ctx context.Context, pane string) (string, error) {
	out, err := t.do(ctx, "display-message", "-p", "-t", pane, "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Health is the two-tier health result for a pane.
type Health struct {
	// Exists is true when the pane handle is present in the live listing.
	Exists bool

	// Running is true when the pane's foreground process matches the
	// expected worker binary. Only meaningful when Exists is true.
	Running bool

	// Command is the observed foreground process name, for diagnostics.
	Command string
}

// CheckHealth performs the two-tier health check against workerCmd.
// Worker launchers are frequently shell wrappers, so a pane whose
// foreground command is the worker's runtime (e.g. node) also counts
// as running.
func (t *Tmux) CheckHealth(ctx context.Context, pane, workerCmd string) (Health, error) {
	cmd, err := t.PaneCommand(ctx, pane)
	switch {
	case errors.Is(err, ErrNoServer):
		return Health{}, ErrNoServer
	case errors.Is(err, ErrSessionNotFound):
		return Health{Exists: false}, nil
	case err != nil:
		return Health{}, err
	}
	return Health{
		Exists:  true,
		Running: isWorkerProcess(cmd, workerCmd),
		Command: cmd,
	}, nil
}

// isWorkerProcess matches the observed foreground command against the
// expected worker binary, including the node runtime that claude-style
// launchers exec into.
func isWorkerProcess(observed, workerCmd string) bool {
	if observed == "" {
		return false
	}
	if observed == workerCmd {
		return true
	}
	switch observed {
	case "node", "bun", "deno":
		return true
	}
	return false
}

// CapturePane returns the last lines of visible pane content.
func (t *Tmux) CapturePane(ctx context.Context, pane string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", pane}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	out, err := t.do(ctx, args...)
	if err != nil {
		return "", err
	}
	return out, nil
}

// exactTarget prefixes a session name with "=" so tmux matches it
// exactly instead of by prefix ("hs-a" must not match "hs-ab").
func exactTarget(session string) string {
	if strings.HasPrefix(session, "=") || strings.HasPrefix(session, "%") {
		return session
	}
	return "=" + session
}

// prependEnv produces "K=V K2=V2 command" with shell quoting on values.
func prependEnv(command string, env map[string]string) string {
	if len(env) == 0 {
		return command
	}
	var b strings.Builder
	for _, k := range sortedKeys(env) {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(shellQuote(env[k]))
		b.WriteString(" ")
	}
	b.WriteString(command)
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>(){}*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
