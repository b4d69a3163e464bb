package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryConfig controls [Retry] and [RetryWithResult].
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first one.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt. It doubles after
	// every further failure. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 10s.
	MaxBackoff time.Duration

	// Retryable reports whether err is worth another attempt. Nil retries every
	// error. Context errors and [ErrCircuitOpen] are never retried.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

func (c RetryConfig) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return c.Retryable == nil || c.Retryable(err)
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned unchanged.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is [Retry] for calls that produce a value.
func RetryWithResult[R any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (R, error)) (R, error) {
	cfg = cfg.withDefaults()
	backoff := cfg.InitialBackoff

	var zero R
	for attempt := 1; ; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if attempt >= cfg.MaxAttempts || !cfg.retryable(err) {
			return zero, err
		}

		slog.Debug("retrying after error", "attempt", attempt, "backoff", backoff, "error", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
		backoff = min(backoff*2, cfg.MaxBackoff)
	}
}
