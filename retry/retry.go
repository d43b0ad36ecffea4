// Package retry repeats an operation with exponential backoff and jitter.
// The cache uses it to establish the remote tier connection at startup.
package retry

import (
	"context"
	"time"
)

// Config controls the behaviour of [Do].
type Config struct {
	// MaxAttempts is the total number of calls, the first included. Values
	// ≤ 1 mean a single attempt.
	MaxAttempts int

	// BaseDelay is the wait before the first retry; each further retry
	// doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Jitter randomizes each delay by ±Jitter of its value (0.2 = ±20 %).
	Jitter float64

	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(error) bool

	// OnRetry, if set, is called before sleeping with the failed attempt
	// number (starting at 1), its error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do calls fn until it succeeds, returns a non-retryable error, or
// cfg.MaxAttempts is reached. The last error is returned. Cancelling ctx
// aborts the wait between attempts and returns ctx.Err().
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for i := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if i == attempts-1 || (cfg.Retryable != nil && !cfg.Retryable(err)) {
			return zero, err
		}

		delay := backoff(cfg, i)
		if cfg.OnRetry != nil {
			cfg.OnRetry(i+1, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, nil
}

// DoErr is Do for operations that only return an error.
func DoErr(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
