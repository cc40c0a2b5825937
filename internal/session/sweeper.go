package session

import (
	"context"
	"time"
)

// RunSweeper periodically revives Closed sessions that still have stored
// credentials but no pending reconnect timer. Safety net against lost timers
// after a partial crash; it never forces new credentials and never overrides
// an in-flight attempt. Blocks until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.Sweep(ctx)
	}
}

// Sweep runs one recovery pass over all registered sessions.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.reviveIfDormant(ctx)
	}
}
