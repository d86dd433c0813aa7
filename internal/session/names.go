// Package session provides tmux session naming and identity for the
// fleet. Session names are the join key between the agent registry and
// the live pane listing, so they must be unique and parseable.
package session

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Prefix marks every tmux session this fleet owns.
const Prefix = "hs-"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Sanitize reduces an arbitrary string to tmux-session-safe characters.
func Sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ProjectName derives a short project label from a workspace path.
func ProjectName(workspace string) string {
	name := Sanitize(filepath.Base(workspace))
	if name == "" {
		return "work"
	}
	return name
}

// New generates a unique session name for a worker in the given
// workspace: "hs-<project>-<uuid8>". The random suffix makes collisions
// with stale or concurrent sessions a non-issue.
func New(workspace string) string {
	return fmt.Sprintf("%s%s-%s", Prefix, ProjectName(workspace), uuid.NewString()[:8])
}

// Owned reports whether a session name belongs to this fleet.
func Owned(name string) bool {
	return strings.HasPrefix(name, Prefix)
}
