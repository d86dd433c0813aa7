package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreComplete(t *testing.T) {
	cfg := Default()
	if cfg.WorkerCommand == "" || cfg.ExitCommand == "" || cfg.SessionPrefix == "" {
		t.Errorf("incomplete defaults: %+v", cfg)
	}
	if cfg.Bridge.CommandTimeout.Std() <= 0 {
		t.Error("no default command timeout")
	}
	if cfg.Monitor.GracePeriod.Std() <= 0 {
		t.Error("no default grace period")
	}
	if cfg.RateLimit.CallsPerMinute <= 0 {
		t.Error("no default call limit")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerCommand != "claude" {
		t.Errorf("worker command = %q", cfg.WorkerCommand)
	}
	// Derived daemon paths are filled even without a file.
	if cfg.Daemon.PidFile == "" || cfg.Daemon.LockFile == "" || cfg.Daemon.LogFile == "" {
		t.Errorf("daemon paths not derived: %+v", cfg.Daemon)
	}
}

func TestLoadOverridesAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "headspace.toml")
	content := `
data_dir = "/srv/headspace"
worker_command = "claude-custom"

[bridge]
enter_delay = "750ms"

[monitor]
inactivity_timeout = "45m"

[ratelimit]
calls_per_minute = 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerCommand != "claude-custom" {
		t.Errorf("worker command = %q", cfg.WorkerCommand)
	}
	if got := cfg.Bridge.EnterDelay.Std(); got != 750*time.Millisecond {
		t.Errorf("enter delay = %v", got)
	}
	if got := cfg.Monitor.InactivityTimeout.Std(); got != 45*time.Minute {
		t.Errorf("inactivity timeout = %v", got)
	}
	if cfg.RateLimit.CallsPerMinute != 3 {
		t.Errorf("calls per minute = %d", cfg.RateLimit.CallsPerMinute)
	}
	// Unset fields keep their defaults.
	if cfg.ExitCommand != "/exit" {
		t.Errorf("exit command = %q", cfg.ExitCommand)
	}
	// Derived paths follow the overridden data dir.
	if cfg.Daemon.PidFile != "/srv/headspace/daemon/daemon.pid" {
		t.Errorf("pid file = %q", cfg.Daemon.PidFile)
	}
	if cfg.DBPath() != "/srv/headspace/headspace.db" {
		t.Errorf("db path = %q", cfg.DBPath())
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "headspace.toml")
	if err := os.WriteFile(path, []byte("[bridge]\nenter_delay = \"soon\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestPersonaDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	if got := cfg.PersonaDir("toast"); got != "/data/personas/toast" {
		t.Errorf("persona dir = %q", got)
	}
}
