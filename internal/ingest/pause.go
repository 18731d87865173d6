package ingest

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultPauseCheckInterval bounds resume latency.
const DefaultPauseCheckInterval = 200 * time.Millisecond

// PauseController is the operator's pause switch for batch submission.
// It only gates new batches; in-flight requests and polling are never affected.
// Safe for concurrent use.
type PauseController struct {
	paused   atomic.Bool
	interval time.Duration
}

// NewPauseController creates an unpaused controller.
// A non-positive interval falls back to DefaultPauseCheckInterval.
func NewPauseController(checkInterval time.Duration) *PauseController {
	if checkInterval <= 0 {
		checkInterval = DefaultPauseCheckInterval
	}
	return &PauseController{interval: checkInterval}
}

// IsPaused reports the current flag.
func (p *PauseController) IsPaused() bool {
	return p.paused.Load()
}

// Toggle flips the flag and returns the new value.
func (p *PauseController) Toggle() bool {
	for {
		old := p.paused.Load()
		if p.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Pause sets the flag.
func (p *PauseController) Pause() { p.paused.Store(true) }

// Resume clears the flag.
func (p *PauseController) Resume() { p.paused.Store(false) }

// WaitWhilePaused blocks until the flag is cleared or ctx is done.
// Returns immediately when not paused.
func (p *PauseController) WaitWhilePaused(ctx context.Context) error {
	if !p.IsPaused() {
		return ctx.Err()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for p.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
