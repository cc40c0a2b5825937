package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gowa-fleet/config"
	"gowa-fleet/internal/metrics"
	"gowa-fleet/internal/transport"
	"gowa-fleet/internal/ws"

	"github.com/rs/zerolog"
)

// Registry owns every Session for its lifetime and is the single source of
// truth for "does instance X have a session".
type Registry struct {
	cfg  *config.Config
	log  zerolog.Logger
	deps *deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(cfg *config.Config, tr transport.Transport, store transport.Store, realtime ws.RealtimePublisher, log zerolog.Logger, hooks Hooks) *Registry {
	r := &Registry{
		cfg:      cfg,
		log:      log.With().Str("component", "registry").Logger(),
		sessions: make(map[string]*Session),
	}
	r.deps = &deps{
		cfg:       cfg,
		log:       log.With().Str("component", "session").Logger(),
		gate:      NewGate(cfg.GateCapacity),
		transport: tr,
		store:     store,
		realtime:  realtime,
		hooks:     hooks,
		remove:    r.Remove,
	}
	return r
}

// Gate exposes the shared admission gate, mainly for instrumentation.
func (r *Registry) Gate() *Gate { return r.deps.gate }

// GetOrCreate returns the single Session for an instance id, creating it in
// Idle and scheduling an initial start when absent. Concurrent calls for the
// same unseen id observe exactly one creation.
func (r *Registry) GetOrCreate(instanceID string) *Session {
	r.mu.Lock()
	if s, ok := r.sessions[instanceID]; ok {
		r.mu.Unlock()
		return s
	}
	s := newSession(instanceID, r.deps)
	r.sessions[instanceID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsTotal.Set(float64(total))
	r.log.Info().Str("instance_id", instanceID).Msg("session created")

	go func() {
		if err := s.Start(context.Background(), false); err != nil && !errors.Is(err, ErrAlreadyConnected) {
			r.log.Warn().Str("instance_id", instanceID).Err(err).Msg("initial start failed")
		}
	}()
	return s
}

func (r *Registry) Get(instanceID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[instanceID]
	return s, ok
}

// Remove destroys the session and tears down its connection. Idempotent.
func (r *Registry) Remove(instanceID string) {
	r.mu.Lock()
	s, ok := r.sessions[instanceID]
	if ok {
		delete(r.sessions, instanceID)
	}
	total := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsTotal.Set(float64(total))
	if !ok {
		return
	}
	s.shutdown()
	r.log.Info().Str("instance_id", instanceID).Msg("session removed")
}

// Logout disconnects with credential wipe and destroys the session.
// A no-op for unknown ids.
func (r *Registry) Logout(ctx context.Context, instanceID string) error {
	s, ok := r.Get(instanceID)
	if !ok {
		return nil
	}
	err := s.Disconnect(ctx, true)
	r.Remove(instanceID)
	return err
}

// List snapshots every session, ordered by instance id.
func (r *Registry) List() []Status {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// Health reports connected vs. registered session counts.
func (r *Registry) Health() (active, total int) {
	for _, st := range r.List() {
		if st.Connected {
			active++
		}
	}
	r.mu.RLock()
	total = len(r.sessions)
	r.mu.RUnlock()
	return active, total
}

// RestoreAll revives every instance with a stored credential bundle.
// Called once at boot.
func (r *Registry) RestoreAll(ctx context.Context) error {
	ids, err := r.deps.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list stored instances: %w", err)
	}
	r.log.Info().Int("count", len(ids)).Msg("restoring stored instances")
	for _, id := range ids {
		r.GetOrCreate(id)
	}
	return nil
}

// Shutdown tears down every session without wiping credentials.
func (r *Registry) Shutdown() {
	for _, st := range r.List() {
		r.Remove(st.InstanceID)
	}
}
