// Package retry provides the retry policy shared by the embedding batcher and
// the vector store adapter: bounded attempts, exponential backoff with jitter,
// and a pluggable notion of which errors are retryable.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Policy configures exponential backoff retry behavior
type Policy struct {
	MaxAttempts int           // Total attempts including the first call
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Cap for any single delay
	Multiplier  float64       // Exponential backoff multiplier
	Jitter      float64       // Fractional jitter applied to each delay, e.g. 0.2 = ±20%

	// Retryable decides whether an error is worth another attempt.
	// Nil means types.IsTransient.
	Retryable func(error) bool

	// OnRetry is called before sleeping for the next attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the policy used for embedding batches
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// Once returns a policy that retries any non-context error exactly once.
// Vector store writes use it.
func Once(delay time.Duration) Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Multiplier:  1,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, types.ErrInvalidPayload)
		},
	}
}

// Delay returns the backoff before attempt n+1, given that attempt n failed
// (n is 1-based). Jitter is applied with the supplied random source.
func (p Policy) Delay(n int, rnd func() float64) time.Duration {
	delay := float64(p.BaseDelay)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < n; i++ {
		delay *= mult
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}

	if p.Jitter > 0 && rnd != nil {
		delay += delay * p.Jitter * (2*rnd() - 1)
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return types.IsTransient(err)
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !p.retryable(err) || attempt == attempts {
			break
		}

		delay := p.Delay(attempt, rand.Float64)
		var rl *types.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}
