package infer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CLIBackend performs inference by running the worker launcher in
// one-shot print mode ("claude -p"). No API credentials beyond what the
// launcher already has, and the same binary the fleet spawns.
type CLIBackend struct {
	// Command is the launcher executable, normally the configured worker
	// command.
	Command string

	// Timeout bounds one invocation.
	Timeout time.Duration
}

// NewCLIBackend builds a backend over the launcher binary.
func NewCLIBackend(command string, timeout time.Duration) *CLIBackend {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &CLIBackend{Command: command, Timeout: timeout}
}

// Infer runs one prompt through the launcher. Launcher absence is
// rejected (no retry will fix it); everything else is treated as
// transient.
func (b *CLIBackend) Infer(ctx context.Context, model, prompt string) (*Response, error) {
	path, err := exec.LookPath(b.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrRejected, b.Command)
	}

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	args := []string{"-p"}
	if model != "" {
		args = append(args, "--model", model)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrUnavailable, b.Timeout)
		}
		return nil, fmt.Errorf("%w: %v (%s)", ErrUnavailable, err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	return &Response{
		Text:         text,
		InputTokens:  estimateTokens(prompt),
		OutputTokens: estimateTokens(text),
	}, nil
}

// estimateTokens approximates token usage when the transport reports
// none: about four characters per token.
func estimateTokens(s string) int {
	return len(s) / 4
}
