package ingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCooldown is the pause inserted after the backend reports congestion.
const DefaultCooldown = 5 * time.Second

// throttle gates batch dispatch: a cooldown deadline set by congestion signals,
// then an optional steady rate limit.
type throttle struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	cooldown time.Duration
	retryAt  time.Time
}

// newThrottle creates a throttle. batchesPerSecond <= 0 disables the steady limit.
func newThrottle(cooldown time.Duration, batchesPerSecond float64) *throttle {
	limit := rate.Inf
	if batchesPerSecond > 0 {
		limit = rate.Limit(batchesPerSecond)
	}
	return &throttle{
		limiter:  rate.NewLimiter(limit, 1),
		cooldown: cooldown,
	}
}

// Wait blocks until the next batch may be dispatched.
func (t *throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	retryAt := t.retryAt
	t.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return t.limiter.Wait(ctx)
}

// Congested records a congestion signal. The longer of the configured cooldown
// and the backend's retry hint applies.
func (t *throttle) Congested(retryAfter time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	wait := max(t.cooldown, retryAfter)
	t.retryAt = time.Now().Add(wait)
	return wait
}
