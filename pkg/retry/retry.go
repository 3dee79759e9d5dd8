// Package retry provides exponential backoff calculation and a bounded
// retry executor.
package retry

import (
	"context"
	"math"
	"time"
)

// Config for retry behavior. Zero values use defaults.
type Config struct {
	Initial    time.Duration // first backoff (default: 1s)
	Max        time.Duration // backoff cap (default: 30s)
	MaxRetries int           // retries after the first attempt (default: 3)
}

func (c Config) withDefaults() Config {
	if c.Initial <= 0 {
		c.Initial = time.Second
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Backoff calculates the exponential backoff for a given attempt.
// Attempt 1 returns Initial, attempt 2 returns Initial*2, etc., capped at Max.
func Backoff(attempt int, cfg Config) time.Duration {
	cfg = cfg.withDefaults()
	if attempt < 1 {
		return cfg.Initial
	}
	backoff := float64(cfg.Initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(cfg.Max) {
		backoff = float64(cfg.Max)
	}
	return time.Duration(backoff)
}

// Do runs fn up to 1+MaxRetries times, sleeping with exponential backoff
// between attempts. A retry happens only when retryable(err) is true;
// any other error is returned immediately. Context cancellation cuts the
// wait short and surfaces ctx.Err().
func Do(ctx context.Context, cfg Config, fn func(context.Context) error, retryable func(error) bool) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(attempt, cfg)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
