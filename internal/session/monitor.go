package session

import (
	"context"
	"time"

	"gowa-fleet/internal/metrics"
	"gowa-fleet/internal/transport"
)

// runMonitor probes the connection while the session is Open. The transport
// does not always deliver a close event for a silently dead socket; after
// enough consecutive probe failures the session is forced through the normal
// close path.
func (s *Session) runMonitor(ctx context.Context, epoch uint64, conn transport.Conn) {
	ticker := time.NewTicker(s.deps.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pctx, cancel := context.WithTimeout(ctx, s.deps.cfg.HeartbeatTimeout)
		err := conn.Ping(pctx)
		cancel()

		s.mu.Lock()
		if s.epoch != epoch || s.state != StateOpen {
			s.mu.Unlock()
			return
		}
		if err == nil {
			s.hbFailures = 0
			s.mu.Unlock()
			continue
		}
		s.hbFailures++
		failures := s.hbFailures
		s.mu.Unlock()

		metrics.HeartbeatFailures.Inc()
		s.deps.log.Warn().
			Str("instance_id", s.instanceID).
			Int("failures", failures).
			Err(err).
			Msg("heartbeat probe failed")

		if failures >= s.deps.cfg.HeartbeatThreshold {
			s.handleClosed(epoch, transport.CloseConnectionLost, "heartbeat: connection lost")
			return
		}
	}
}
