// Package persona manages persona data areas: the per-persona directory
// that holds identity files and handoff context dumps.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// ErrInvalidName marks a persona name unusable as a directory component.
var ErrInvalidName = errors.New("invalid persona name")

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Validate checks a persona name.
func Validate(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Dir returns the persona's data directory under root, creating it if
// needed.
func Dir(root, name string) (string, error) {
	if err := Validate(name); err != nil {
		return "", err
	}
	dir := filepath.Join(root, "personas", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating persona dir: %w", err)
	}
	return dir, nil
}

// HandoffArtifactPath is the deterministic location a terminating agent
// is instructed to write its context dump to. Timestamped so successive
// handoffs for the same persona never collide.
func HandoffArtifactPath(root, name string, at time.Time) (string, error) {
	dir, err := Dir(root, name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("handoff-%s.md", at.UTC().Format("20060102-150405"))), nil
}

// VerifyArtifact checks that the context dump exists and is non-empty.
func VerifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("handoff artifact missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("handoff artifact %s is empty", path)
	}
	return nil
}
