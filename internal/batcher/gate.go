package batcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate is shared by all in-flight batches of a run. A rate-limit response
// from any batch pauses new provider calls for everyone until the
// provider's retry-after has elapsed. An optional token bucket paces calls
// proactively.
type Gate struct {
	mu      sync.Mutex
	until   time.Time
	limiter *rate.Limiter
	now     func() time.Time
}

// NewGate creates a gate. rps <= 0 disables proactive pacing.
func NewGate(rps float64) *Gate {
	g := &Gate{now: time.Now}
	if rps > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return g
}

// PauseFor blocks new calls for at least d from now
func (g *Gate) PauseFor(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := g.now().Add(d); until.After(g.until) {
		g.until = until
	}
}

// Remaining returns how long the gate stays closed
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.until.Sub(g.now())
}

// Wait blocks until the gate is open and a pacing token is available
func (g *Gate) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		d := g.Remaining()
		if d <= 0 {
			break
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if g.limiter != nil {
		return g.limiter.Wait(ctx)
	}
	return nil
}
