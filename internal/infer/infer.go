// Package infer is the boundary to the downstream inference dependency.
// The actual transport is pluggable; this package owns what wraps it:
// rate limiting, result caching, and retry with exponential backoff.
package infer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samotage/claude-headspace-sub001/internal/ratelimit"
)

// Backend performs one raw inference call.
type Backend interface {
	Infer(ctx context.Context, model, prompt string) (*Response, error)
}

// Response is the result of one inference call.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// TotalTokens is input plus output.
func (r *Response) TotalTokens() int { return r.InputTokens + r.OutputTokens }

// Error classification at this boundary. Timeouts, 5xx and 429 are
// retryable; 4xx auth/validation failures are not.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("inference backend unavailable")
	ErrRejected    = errors.New("inference request rejected")
)

// Retryable reports whether the failure is worth another attempt.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// Options configures a Client.
type Options struct {
	Model      string
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration

	// TokensPerCharEstimate sizes the limiter pre-check. Roughly four
	// characters per token for English prose.
	TokensPerCharEstimate float64
}

func (o *Options) fill() {
	if o.MaxRetries == 0 {
		o.MaxRetries = 4
	}
	if o.BackoffMin == 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.TokensPerCharEstimate == 0 {
		o.TokensPerCharEstimate = 0.25
	}
}

// Client wraps a Backend with the limiter and cache. A cache hit skips
// both the limiter and the backend entirely.
type Client struct {
	backend Backend
	limiter *ratelimit.Limiter
	cache   *ratelimit.Cache
	opts    Options

	sleep func(context.Context, time.Duration)
}

// NewClient assembles the guarded inference client.
func NewClient(backend Backend, limiter *ratelimit.Limiter, cache *ratelimit.Cache, opts Options) *Client {
	opts.fill()
	return &Client{
		backend: backend,
		limiter: limiter,
		cache:   cache,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

// Infer runs one guarded inference call. Identical prompts within the
// cache TTL return the cached text without touching the limiter or the
// backend. A denied limiter check returns ErrRateLimited wrapped with
// the retry-after hint; the caller re-checks, the wait itself is not
// cancellable capacity reservation.
func (c *Client) Infer(ctx context.Context, prompt string) (string, error) {
	key := ratelimit.HashKey(c.opts.Model + "\x00" + prompt)
	if text, ok := c.cache.Get(key); ok {
		return text, nil
	}

	estimate := int(float64(len(prompt)) * c.opts.TokensPerCharEstimate)
	if d := c.limiter.Check(estimate); !d.Allowed {
		return "", fmt.Errorf("%w: retry after %s (%s)", ErrRateLimited, d.RetryAfter.Round(time.Second), d.Reason)
	}

	resp, err := c.inferWithRetry(ctx, prompt)
	if err != nil {
		return "", err
	}

	c.limiter.Record(resp.TotalTokens())
	c.cache.Put(key, resp.Text)
	return resp.Text, nil
}

// inferWithRetry retries transient failures with exponential backoff,
// doubling from BackoffMin and capping at BackoffMax.
func (c *Client) inferWithRetry(ctx context.Context, prompt string) (*Response, error) {
	backoff := c.opts.BackoffMin
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, backoff)
			backoff *= 2
			if backoff > c.opts.BackoffMax {
				backoff = c.opts.BackoffMax
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		resp, err := c.backend.Infer(ctx, c.opts.Model, prompt)
		if err == nil {
			return resp, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("inference failed after %d attempts: %w", c.opts.MaxRetries+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
