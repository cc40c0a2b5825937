package session

import (
	"context"
	"sync"

	"gowa-fleet/internal/metrics"
)

// Gate bounds how many sessions may be mid-handshake at once. Waiters are
// served strictly in arrival order; a freed slot goes to the longest-waiting
// caller.
type Gate struct {
	mu      sync.Mutex
	free    int
	waiters []chan struct{}
}

func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{free: capacity}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.free > 0 {
		g.free--
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	metrics.GateWaiting.Inc()
	defer metrics.GateWaiting.Dec()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ready {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ErrAdmissionTimeout
			}
		}
		g.mu.Unlock()
		// Release already handed us the slot; pass it on.
		g.Release()
		return ErrAdmissionTimeout
	}
}

// Release frees a slot, waking the longest-waiting caller if any.
func (g *Gate) Release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		ready := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(ready)
		return
	}
	g.free++
	g.mu.Unlock()
}

// Waiting returns the number of queued callers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
