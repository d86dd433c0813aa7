// Package config loads headspace configuration from a TOML file.
//
// All durations are specified in the file as strings ("30s", "5m") and
// every field has a default, so a missing or partial config file is fine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFileName is the config file name looked up under the data dir.
const DefaultFileName = "headspace.toml"

// Config is the top-level headspace configuration.
type Config struct {
	// DataDir is the root for runtime state: database, daemon files,
	// persona data, handoff artifacts. Defaults to ~/.headspace.
	DataDir string `toml:"data_dir"`

	// WorkerCommand is the worker launcher executable spawned inside
	// new tmux sessions.
	WorkerCommand string `toml:"worker_command"`

	// ExitCommand is the worker's own exit command, typed into its pane
	// for graceful shutdown.
	ExitCommand string `toml:"exit_command"`

	// SessionPrefix is prepended to every tmux session this fleet owns.
	SessionPrefix string `toml:"session_prefix"`

	Bridge    BridgeConfig    `toml:"bridge"`
	Monitor   MonitorConfig   `toml:"monitor"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Infer     InferConfig     `toml:"infer"`
	Daemon    DaemonConfig    `toml:"daemon"`
}

// BridgeConfig controls tmux interaction timing.
type BridgeConfig struct {
	// CommandTimeout bounds every tmux invocation.
	CommandTimeout duration `toml:"command_timeout"`

	// EnterDelay is the pause between sending literal text and the
	// separate Enter keystroke. Some worker UIs swallow an Enter that
	// arrives in the same batch as text (autocomplete interception).
	EnterDelay duration `toml:"enter_delay"`

	// KeyDelay is the pause between named keystrokes in SendKeys.
	KeyDelay duration `toml:"key_delay"`

	// CaptureLines is the default number of pane lines captured.
	CaptureLines int `toml:"capture_lines"`
}

// MonitorConfig controls the background coordinator loops.
type MonitorConfig struct {
	// SweepInterval is how often pane availability is re-checked.
	SweepInterval duration `toml:"sweep_interval"`

	// ReapInterval is how often the inactivity reaper runs.
	ReapInterval duration `toml:"reap_interval"`

	// InactivityTimeout ends agents whose last activity is older than this.
	InactivityTimeout duration `toml:"inactivity_timeout"`

	// GracePeriod protects newly created agents from the reaper while
	// they are still registering.
	GracePeriod duration `toml:"grace_period"`

	// DebounceWindow coalesces rescore triggers.
	DebounceWindow duration `toml:"debounce_window"`

	// UsagePollInterval is how often pane status lines are parsed for
	// resource usage.
	UsagePollInterval duration `toml:"usage_poll_interval"`
}

// RateLimitConfig bounds calls to the inference dependency.
type RateLimitConfig struct {
	CallsPerMinute  int `toml:"calls_per_minute"`
	TokensPerMinute int `toml:"tokens_per_minute"`

	// CacheTTL is how long cached inference results stay valid.
	CacheTTL duration `toml:"cache_ttl"`
}

// InferConfig controls retry behavior at the inference boundary.
type InferConfig struct {
	Model      string   `toml:"model"`
	MaxRetries int      `toml:"max_retries"`
	BackoffMin duration `toml:"backoff_min"`
	BackoffMax duration `toml:"backoff_max"`
}

// DaemonConfig holds daemon file locations. Empty fields are derived
// from DataDir.
type DaemonConfig struct {
	LogFile  string `toml:"log_file"`
	PidFile  string `toml:"pid_file"`
	LockFile string `toml:"lock_file"`
}

// duration wraps time.Duration for TOML string decoding.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".headspace")
	return &Config{
		DataDir:       dataDir,
		WorkerCommand: "claude",
		ExitCommand:   "/exit",
		SessionPrefix: "hs-",
		Bridge: BridgeConfig{
			CommandTimeout: duration(10 * time.Second),
			EnterDelay:     duration(300 * time.Millisecond),
			KeyDelay:       duration(100 * time.Millisecond),
			CaptureLines:   50,
		},
		Monitor: MonitorConfig{
			SweepInterval:     duration(15 * time.Second),
			ReapInterval:      duration(60 * time.Second),
			InactivityTimeout: duration(30 * time.Minute),
			GracePeriod:       duration(5 * time.Minute),
			DebounceWindow:    duration(3 * time.Second),
			UsagePollInterval: duration(30 * time.Second),
		},
		RateLimit: RateLimitConfig{
			CallsPerMinute:  10,
			TokensPerMinute: 40000,
			CacheTTL:        duration(15 * time.Minute),
		},
		Infer: InferConfig{
			Model:      "claude-3-5-haiku-latest",
			MaxRetries: 4,
			BackoffMin: duration(500 * time.Millisecond),
			BackoffMax: duration(30 * time.Second),
		},
	}
}

// Load reads the config file at path, applying defaults for anything
// the file does not set. A missing file returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(cfg.DataDir, DefaultFileName)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyDerived()
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.applyDerived()
	return cfg, nil
}

// applyDerived fills daemon paths from DataDir when not set explicitly.
func (c *Config) applyDerived() {
	daemonDir := filepath.Join(c.DataDir, "daemon")
	if c.Daemon.LogFile == "" {
		c.Daemon.LogFile = filepath.Join(daemonDir, "daemon.log")
	}
	if c.Daemon.PidFile == "" {
		c.Daemon.PidFile = filepath.Join(daemonDir, "daemon.pid")
	}
	if c.Daemon.LockFile == "" {
		c.Daemon.LockFile = filepath.Join(daemonDir, "daemon.lock")
	}
}

// DBPath returns the sqlite database location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "headspace.db")
}

// PersonaDir returns the data directory for a named persona.
func (c *Config) PersonaDir(persona string) string {
	return filepath.Join(c.DataDir, "personas", persona)
}
