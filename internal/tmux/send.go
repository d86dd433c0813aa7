package tmux

import (
	"context"
	"errors"
	"time"
)

// SendText writes literal text into a pane, waits EnterDelay, then sends
// Enter as a separate keystroke. The split is required: worker UIs with
// autocomplete intercept an Enter that arrives in the same send-keys
// batch as the text, silently swallowing the submit.
func (t *Tmux) SendText(ctx context.Context, pane, text string) error {
	if err := t.sendLiteral(ctx, pane, text); err != nil {
		return err
	}
	sleepCtx(ctx, t.EnterDelay)
	return t.sendEnter(ctx, pane)
}

// SendTextVerified is SendText plus delivery confirmation by re-capture.
// After the first Enter it captures the pane; unchanged content is taken
// to mean the submit was swallowed, and the Enter alone is retried once.
//
// There is no true acknowledgement channel, so "content changed" is a
// probabilistic confirmation, not a guarantee. Callers needing certainty
// must verify at a higher level.
func (t *Tmux) SendTextVerified(ctx context.Context, pane, text string) error {
	if err := t.sendLiteral(ctx, pane, text); err != nil {
		return err
	}
	sleepCtx(ctx, t.EnterDelay)

	before, err := t.CapturePane(ctx, pane, verifyCaptureLines)
	if err != nil {
		// Capture failure degrades to unverified delivery.
		return t.sendEnter(ctx, pane)
	}

	if err := t.sendEnter(ctx, pane); err != nil {
		return err
	}
	sleepCtx(ctx, verifySettleDelay)

	after, err := t.CapturePane(ctx, pane, verifyCaptureLines)
	if err != nil || after != before {
		return nil
	}

	// Unchanged content: the Enter was likely intercepted. Retry the
	// submit keystroke alone, not the text.
	return t.sendEnter(ctx, pane)
}

// SendKeys delivers named control keystrokes (tmux key names such as
// "Escape", "C-c", "Down") with KeyDelay between each. Used for
// permission dialogs and option menus, never for text.
func (t *Tmux) SendKeys(ctx context.Context, pane string, keys ...string) error {
	for i, key := range keys {
		if i > 0 {
			sleepCtx(ctx, t.KeyDelay)
		}
		if _, err := t.do(ctx, "send-keys", "-t", pane, key); err != nil {
			return sendFailure(err)
		}
	}
	return nil
}

const (
	// verifyCaptureLines is how much of the pane to compare for the
	// changed-content delivery check.
	verifyCaptureLines = 30

	// verifySettleDelay gives the pane time to react to Enter before
	// the after-capture.
	verifySettleDelay = 500 * time.Millisecond
)

// sendLiteral writes text with the -l flag so tmux performs no key-name
// interpretation on it.
func (t *Tmux) sendLiteral(ctx context.Context, pane, text string) error {
	if _, err := t.do(ctx, "send-keys", "-t", pane, "-l", text); err != nil {
		return sendFailure(err)
	}
	return nil
}

func (t *Tmux) sendEnter(ctx context.Context, pane string) error {
	if _, err := t.do(ctx, "send-keys", "-t", pane, "Enter"); err != nil {
		return sendFailure(err)
	}
	return nil
}

// sendFailure folds generic invocation failures into ErrSendFailed while
// preserving the more specific classifications.
func sendFailure(err error) error {
	switch {
	case err == nil:
		return nil
	case isClassified(err):
		return err
	}
	return ErrSendFailed
}

func isClassified(err error) bool {
	for _, sentinel := range []error{ErrNotInstalled, ErrNoServer, ErrSessionNotFound, ErrTimeout} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
