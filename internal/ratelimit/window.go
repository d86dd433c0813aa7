// Package ratelimit guards the inference dependency with a sliding-window
// call/token limiter and a content-hash-keyed result cache. A cache hit
// bypasses both the limiter and the downstream call entirely.
package ratelimit

import (
	"sync"
	"time"
)

// window is the sliding interval over which calls and tokens are counted.
const window = time.Minute

// Decision is the limiter's answer for one prospective call.
type Decision struct {
	Allowed bool

	// RetryAfter is how long until the oldest window entry expires and
	// capacity frees up. Zero when Allowed.
	RetryAfter time.Duration

	// Reason names the exceeded limit ("calls" or "tokens") when not
	// allowed.
	Reason string
}

type entry struct {
	at     time.Time
	tokens int
}

// Limiter is a sliding 60-second window over call count and cumulative
// token count. Calls and tokens are limited independently; exceeding
// either blocks the request. Safe for concurrent use; the lock guards
// only O(1)-ish slice housekeeping, never I/O.
type Limiter struct {
	mu      sync.Mutex
	entries []entry

	callsPerMinute  int
	tokensPerMinute int

	now func() time.Time
}

// NewLimiter creates a limiter with the given per-minute budgets.
func NewLimiter(callsPerMinute, tokensPerMinute int) *Limiter {
	return &Limiter{
		callsPerMinute:  callsPerMinute,
		tokensPerMinute: tokensPerMinute,
		now:             time.Now,
	}
}

// Check reports whether a call with the estimated token cost may proceed
// right now. Check does not reserve capacity; the caller commits the
// completed call with Record.
//
// A request whose estimate alone exceeds the token budget is still
// allowed when the window is empty: blocking it would deadlock the
// caller forever, since no amount of waiting shrinks the request.
func (l *Limiter) Check(estimatedTokens int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if l.callsPerMinute > 0 && len(l.entries) >= l.callsPerMinute {
		return Decision{RetryAfter: l.retryAfter(now), Reason: "calls"}
	}

	if l.tokensPerMinute > 0 {
		total := estimatedTokens
		for _, e := range l.entries {
			total += e.tokens
		}
		if total > l.tokensPerMinute && len(l.entries) > 0 {
			return Decision{RetryAfter: l.retryAfter(now), Reason: "tokens"}
		}
	}

	return Decision{Allowed: true}
}

// Record commits a completed call and its actual token usage into the
// window.
func (l *Limiter) Record(tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	l.entries = append(l.entries, entry{at: now, tokens: tokens})
}

// InWindow returns the current call count and token total, for status
// display.
func (l *Limiter) InWindow() (calls, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	for _, e := range l.entries {
		tokens += e.tokens
	}
	return len(l.entries), tokens
}

// evict drops entries older than the window. Entries are appended in
// time order, so the prefix is the stale part.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.entries) && !l.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

// retryAfter is the time until the oldest entry leaves the window.
func (l *Limiter) retryAfter(now time.Time) time.Duration {
	if len(l.entries) == 0 {
		return 0
	}
	d := l.entries[0].at.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
