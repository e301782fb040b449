// Package retry implements exponential-backoff-with-jitter retry, shared
// by any caller that needs to reattempt a fallible operation. Adapted
// from the teacher's resilience/retry.go, generalized so the backoff
// computation (Delay) can be reused standalone by a restart scheduler
// that doesn't want the full retry loop.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cogforge/coc/core"
)

// Config configures retry behavior.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Delay computes the backoff delay before attempt number n (1-based),
// for InitialDelay·BackoffFactor^(n-1) capped at MaxDelay, with
// optional jitter scaled to ±10% to avoid thundering-herd synchronized
// restarts.
func (c *Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && delay > max {
		delay = max
	}
	if c.JitterEnabled {
		delay += delay * 0.1 * (rand.Float64()*2 - 1)
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}

// Do executes fn, retrying up to MaxAttempts times with backoff between
// attempts. The context is checked before every attempt and during every
// sleep.
func Do(ctx context.Context, config *Config, fn func() error) error {
	if config == nil {
		config = DefaultConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			break
		}

		timer := time.NewTimer(config.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}
