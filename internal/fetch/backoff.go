package fetch

import (
	"context"
	"sync"
	"time"
)

// Gate is a shared backoff signal for a batch of workers. Any worker that
// hits an upstream error trips the gate; every worker then waits before
// its next attempt, and the first success clears the gate for all of them.
// The delay doubles on consecutive trips up to a cap.
type Gate struct {
	mu      sync.Mutex
	tripped bool
	delay   time.Duration
	cleared chan struct{}

	base time.Duration
	max  time.Duration
}

// NewGate creates a backoff gate. Zero-valued arguments get defaults.
func NewGate(base, max time.Duration) *Gate {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Gate{base: base, max: max}
}

// Trip signals that an upstream error occurred and returns the delay the
// tripping worker should wait. Each trip while already tripped doubles the
// delay up to the cap.
func (g *Gate) Trip() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.tripped {
		g.tripped = true
		g.delay = g.base
		g.cleared = make(chan struct{})
		return g.delay
	}
	if g.delay < g.max {
		g.delay *= 2
		if g.delay > g.max {
			g.delay = g.max
		}
	}
	return g.delay
}

// Clear resets the gate after a successful request and wakes every
// worker still sleeping out the delay.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cleared != nil {
		close(g.cleared)
		g.cleared = nil
	}
	g.tripped = false
	g.delay = 0
}

// Wait blocks for the current gate delay, if any. A sibling's Clear ends
// the wait early. Returns the context error when cancelled mid-wait.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	delay := g.delay
	tripped := g.tripped
	cleared := g.cleared
	g.mu.Unlock()

	if !tripped || delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cleared:
		return nil
	case <-timer.C:
		return nil
	}
}
