// Package retry executes a unit of work under a bounded, jittered
// exponential-backoff policy. It classifies failures but never touches the
// dead-letter queue; parking exhausted work is the caller's decision.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Policy is one named backoff configuration. Delay for attempt n (1-indexed)
// is min(BaseDelay * Multiplier^(n-1), MaxDelay), perturbed by
// +-JitterFraction.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// PermanentError wraps an error that must not be retried: validation
// rejections, auth failures, 4xx-class remote answers other than rate limits.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ExhaustedError is returned after MaxAttempts retryable failures.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Coordinator runs units of work under named policies.
type Coordinator struct {
	logger *slog.Logger
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{logger: logger}
}

// Execute runs op until it succeeds, fails permanently, the context is
// cancelled, or the policy is exhausted. An error is retryable unless marked
// permanent.
func (c *Coordinator) Execute(ctx context.Context, name string, p Policy, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delayFor(attempt)
		c.logger.Warn("unit of work failed, retrying",
			"policy", name,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}

func (p Policy) delayFor(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.JitterFraction > 0 {
		d *= 1 + (rand.Float64()*2-1)*p.JitterFraction
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
