package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// State is the daemon's persisted runtime state, written to state.json
// next to the PID file so status checks work without signaling.
type State struct {
	Running        bool      `json:"running"`
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"started_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat,omitempty"`
	HeartbeatCount int       `json:"heartbeat_count"`
}

func statePath(dataDir string) string {
	return filepath.Join(dataDir, "daemon", "state.json")
}

// SaveState writes the state file atomically via rename.
func SaveState(dataDir string, state *State) error {
	path := statePath(dataDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadState reads the state file. A missing file returns a zero state,
// not an error.
func LoadState(dataDir string) (*State, error) {
	data, err := os.ReadFile(statePath(dataDir))
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
