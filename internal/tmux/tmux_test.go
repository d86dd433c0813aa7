package tmux

import (
	"errors"
	"testing"
)

func TestWrapError(t *testing.T) {
	base := errors.New("exit status 1")
	tests := []struct {
		stderr string
		want   error
	}{
		{"no server running on /tmp/tmux-501/default", ErrNoServer},
		{"error connecting to /tmp/tmux-501/default", ErrNoServer},
		{"duplicate session: hs-web-toast", ErrSessionExists},
		{"session not found: hs-web-toast", ErrSessionNotFound},
		{"can't find session: hs-web-toast", ErrSessionNotFound},
		{"can't find pane: %7", ErrSessionNotFound},
	}
	for _, tt := range tests {
		got := wrapError(base, tt.stderr, []string{"has-session"})
		if !errors.Is(got, tt.want) {
			t.Errorf("wrapError(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func TestWrapErrorPreservesClassified(t *testing.T) {
	if got := wrapError(ErrTimeout, "", nil); !errors.Is(got, ErrTimeout) {
		t.Errorf("timeout not preserved: %v", got)
	}
	if got := wrapError(ErrNotInstalled, "", nil); !errors.Is(got, ErrNotInstalled) {
		t.Errorf("not-installed not preserved: %v", got)
	}
}

func TestWrapErrorUnknown(t *testing.T) {
	got := wrapError(errors.New("exit status 1"), "something else entirely", []string{"send-keys"})
	if got == nil {
		t.Fatal("expected error")
	}
	for _, sentinel := range []error{ErrNoServer, ErrSessionExists, ErrSessionNotFound} {
		if errors.Is(got, sentinel) {
			t.Errorf("unknown stderr misclassified as %v", sentinel)
		}
	}
}

func TestExactTarget(t *testing.T) {
	if got := exactTarget("hs-a"); got != "=hs-a" {
		t.Errorf("exactTarget = %q", got)
	}
	// Pane ids and already-exact targets pass through.
	if got := exactTarget("%12"); got != "%12" {
		t.Errorf("exactTarget pane id = %q", got)
	}
	if got := exactTarget("=hs-a"); got != "=hs-a" {
		t.Errorf("exactTarget exact = %q", got)
	}
}

func TestPrependEnv(t *testing.T) {
	got := prependEnv("claude --resume", map[string]string{
		"HEADSPACE_PERSONA": "toast",
		"HEADSPACE_AGENT":   "a b",
	})
	want := "HEADSPACE_AGENT='a b' HEADSPACE_PERSONA=toast claude --resume"
	if got != want {
		t.Errorf("prependEnv = %q, want %q", got, want)
	}
}

func TestIsWorkerProcess(t *testing.T) {
	tests := []struct {
		observed string
		want     bool
	}{
		{"claude", true},
		{"node", true},
		{"bash", false},
		{"zsh", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isWorkerProcess(tt.observed, "claude"); got != tt.want {
			t.Errorf("isWorkerProcess(%q) = %v, want %v", tt.observed, got, tt.want)
		}
	}
}
