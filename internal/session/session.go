package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gowa-fleet/config"
	"gowa-fleet/internal/helper"
	"gowa-fleet/internal/metrics"
	"gowa-fleet/internal/transport"
	"gowa-fleet/internal/ws"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// deps is everything a session shares with its registry siblings.
type deps struct {
	cfg       *config.Config
	log       zerolog.Logger
	gate      *Gate
	transport transport.Transport
	store     transport.Store
	realtime  ws.RealtimePublisher // may be nil
	hooks     Hooks
	remove    func(instanceID string)
}

// Session drives one instance's connection lifecycle. All mutable state is
// guarded by mu and mutated only by the handlers below, so a close-driven
// reconnect and an explicit start can never race into two live connections.
type Session struct {
	instanceID string
	deps       *deps

	mu       sync.Mutex
	state    State
	conn     transport.Conn
	epoch    uint64 // invalidates events from torn-down connections
	gateHeld bool
	starting bool
	dialing  bool // a Dial is in flight and still owns the gate slot

	qr          *QRArtifact
	qrTimer     *time.Timer
	pairing     *PairingArtifact
	phoneNumber string
	artifactCh  chan struct{}

	attempts      int
	retryTimer    *time.Timer
	retryBackoff  *backoff.ExponentialBackOff
	lastCloseKind CloseKind

	hbFailures    int
	monitorCancel context.CancelFunc

	lastErr error
}

func newSession(instanceID string, d *deps) *Session {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryBackoffInitial
	bo.MaxInterval = d.cfg.RetryBackoffCeiling
	bo.MaxElapsedTime = 0 // never give up
	return &Session{
		instanceID:   instanceID,
		deps:         d,
		state:        StateIdle,
		retryBackoff: bo,
	}
}

func (s *Session) InstanceID() string { return s.instanceID }

// Start establishes a connection. forceNew wipes stored credentials first,
// forcing a fresh QR/pairing cycle. A no-op when an attempt is already in
// flight.
func (s *Session) Start(ctx context.Context, forceNew bool) error {
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return nil
	}
	if !forceNew {
		switch {
		case s.state == StateOpen:
			s.mu.Unlock()
			return ErrAlreadyConnected
		case s.state.establishing():
			// an attempt is already underway
			s.mu.Unlock()
			return nil
		}
	}
	s.starting = true
	s.cancelRetryLocked()
	conn := s.detachConnLocked()
	if forceNew {
		s.clearArtifactsLocked()
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if forceNew {
		if err := s.deps.store.Wipe(ctx, s.instanceID); err != nil {
			s.abortStart(err)
			return fmt.Errorf("wipe credentials: %w", err)
		}
	}

	if err := s.deps.gate.Acquire(ctx); err != nil {
		s.abortStart(err)
		return err
	}

	s.mu.Lock()
	s.gateHeld = true
	s.setStateLocked(StateConnecting)
	s.dialing = true
	epoch := s.epoch
	phone := s.phoneNumber
	s.mu.Unlock()

	metrics.ConnectAttempts.Inc()

	creds, err := s.deps.store.Load(ctx, s.instanceID)
	if err == nil {
		var c transport.Conn
		c, err = s.deps.transport.Dial(ctx, s.instanceID, creds, transport.DialOptions{PhoneNumber: phone})
		if err == nil {
			s.mu.Lock()
			s.dialing = false
			if s.epoch != epoch {
				// superseded by a disconnect while dialing; the slot was kept
				// until the stale dial resolved, release it now
				s.starting = false
				s.releaseGateLocked()
				s.mu.Unlock()
				c.Close()
				return nil
			}
			s.conn = c
			s.starting = false
			s.mu.Unlock()
			go s.pump(epoch, c)
			return nil
		}
	}

	// Transport create failed. Surface it, and keep the session alive with a
	// backed-off retry so scheduled starts recover on their own.
	s.mu.Lock()
	s.dialing = false
	s.releaseGateLocked()
	s.starting = false
	s.lastErr = err
	if s.epoch == epoch {
		s.setStateLocked(StateErrored)
		s.attempts++
		s.scheduleRetryLocked(false, s.retryBackoff.NextBackOff(), KindRetryable)
	}
	s.mu.Unlock()

	if s.deps.realtime != nil {
		s.deps.realtime.Publish(ws.WsEvent{
			Event: ws.EventInstanceError,
			Data:  map[string]string{"instance_id": s.instanceID, "error": err.Error()},
		})
	}
	return fmt.Errorf("transport create: %w", err)
}

// abortStart restores a consistent resting state after a start that failed
// before dialing. Any previous connection is already torn down at this point,
// so the session must land in Closed; leaving the old state would strand an
// Open session with no connection behind it.
func (s *Session) abortStart(err error) {
	s.mu.Lock()
	s.starting = false
	s.lastErr = err
	wasOpen := s.state == StateOpen
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if wasOpen {
		metrics.SessionsActive.Dec()
	}
}

// pump feeds transport events into the state machine until the connection's
// event stream ends.
func (s *Session) pump(epoch uint64, conn transport.Conn) {
	for evt := range conn.Events() {
		switch e := evt.(type) {
		case transport.QREvent:
			s.handleQR(epoch, e.Code)
		case transport.PairingReadyEvent:
			s.handlePairingReady(epoch, conn)
		case transport.OpenedEvent:
			s.handleOpened(epoch, conn)
		case transport.ClosedEvent:
			s.handleClosed(epoch, e.Code, e.Message)
			return
		}
	}
}

func (s *Session) handleQR(epoch uint64, code string) {
	s.mu.Lock()
	if s.epoch != epoch || !s.state.establishing() {
		s.mu.Unlock()
		return
	}
	art := &QRArtifact{Payload: code, IssuedAt: time.Now()}
	s.qr = art
	s.pairing = nil
	s.setStateLocked(StateAwaitingQR)
	if s.qrTimer != nil {
		s.qrTimer.Stop()
	}
	s.qrTimer = time.AfterFunc(s.deps.cfg.QRTTL, func() { s.expireQR(art) })
	s.notifyArtifactLocked()
	expiresAt := art.IssuedAt.Add(s.deps.cfg.QRTTL)
	s.mu.Unlock()

	metrics.QRIssued.Inc()
	s.deps.log.Info().Str("instance_id", s.instanceID).Msg("qr challenge cached")
	if s.deps.realtime != nil {
		s.deps.realtime.Publish(ws.WsEvent{
			Event: ws.EventQRGenerated,
			Data: ws.QRGeneratedData{
				InstanceID: s.instanceID,
				QRData:     code,
				ExpiresAt:  expiresAt,
			},
		})
	}
}

// expireQR nulls the artifact once its TTL elapses, independent of what the
// connection is doing meanwhile.
func (s *Session) expireQR(art *QRArtifact) {
	s.mu.Lock()
	expired := s.qr == art
	if expired {
		s.qr = nil
		s.qrTimer = nil
	}
	s.mu.Unlock()

	if expired && s.deps.realtime != nil {
		s.deps.realtime.Publish(ws.WsEvent{
			Event: ws.EventQRTimeout,
			Data:  map[string]string{"instance_id": s.instanceID},
		})
	}
}

func (s *Session) handlePairingReady(epoch uint64, conn transport.Conn) {
	s.mu.Lock()
	if s.epoch != epoch || !s.state.establishing() || s.phoneNumber == "" {
		s.mu.Unlock()
		return
	}
	phone := s.phoneNumber
	s.setStateLocked(StateAwaitingPairing)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.cfg.PairWait)
	code, err := conn.RequestPairingCode(ctx, phone)
	cancel()
	if err != nil {
		s.deps.log.Error().Str("instance_id", s.instanceID).Err(err).Msg("pairing code request failed")
		s.mu.Lock()
		if s.epoch == epoch {
			s.lastErr = err
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.pairing = &PairingArtifact{PhoneNumber: phone, Code: code, IssuedAt: time.Now()}
	s.qr = nil
	s.notifyArtifactLocked()
	s.mu.Unlock()

	metrics.PairingCodesIssued.Inc()
	s.deps.log.Info().Str("instance_id", s.instanceID).Msg("pairing code cached")
	if s.deps.realtime != nil {
		s.deps.realtime.Publish(ws.WsEvent{
			Event: ws.EventPairingCode,
			Data:  ws.PairingCodeData{InstanceID: s.instanceID, PhoneNumber: phone, Code: code},
		})
	}
}

func (s *Session) handleOpened(epoch uint64, conn transport.Conn) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.clearArtifactsLocked()
	s.phoneNumber = ""
	s.attempts = 0
	s.retryBackoff.Reset()
	s.hbFailures = 0
	s.lastErr = nil
	s.lastCloseKind = KindNone
	s.releaseGateLocked()
	s.setStateLocked(StateOpen)
	// resolve artifact waiters with a "connected" outcome
	s.notifyArtifactLocked()
	mctx, cancel := context.WithCancel(context.Background())
	s.monitorCancel = cancel
	s.mu.Unlock()

	go s.runMonitor(mctx, epoch, conn)

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := s.deps.store.Save(sctx, s.instanceID, conn.Credentials()); err != nil {
		s.deps.log.Warn().Str("instance_id", s.instanceID).Err(err).Msg("failed to persist device mapping")
	}
	scancel()

	metrics.SessionsActive.Inc()
	s.deps.log.Info().Str("instance_id", s.instanceID).Msg("connected")
	s.publishStatus(StateOpen, "")
}

func (s *Session) handleClosed(epoch uint64, code int, message string) {
	kind := classifyClose(code)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state == StateOpen
	conn := s.detachConnLocked()
	s.lastCloseKind = kind
	s.lastErr = fmt.Errorf("closed (%d): %s", code, message)
	s.setStateLocked(StateClosed)

	switch kind {
	case KindSignOut, KindBadSession:
		// terminal: no automatic restart
		s.clearArtifactsLocked()
		s.phoneNumber = ""
	case KindAuthFailure:
		s.clearArtifactsLocked()
		s.scheduleRetryLocked(true, s.deps.cfg.AuthRetryDelay, kind)
	case KindTransient:
		// credentials and cached QR survive a gentle retry
		s.scheduleRetryLocked(false, s.deps.cfg.TransientRetryDelay, kind)
	case KindChallengeTimeout:
		s.scheduleRetryLocked(false, s.deps.cfg.ChallengeRetryDelay, kind)
	case KindServerTerminated:
		s.scheduleRetryLocked(false, s.deps.cfg.ServerRetryDelay, kind)
	case KindConflict:
		s.scheduleRetryLocked(false, s.deps.cfg.ConflictRetryDelay, kind)
	default:
		s.attempts++
		s.scheduleRetryLocked(false, s.retryBackoff.NextBackOff(), kind)
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasOpen {
		metrics.SessionsActive.Dec()
	}

	s.deps.log.Warn().
		Str("instance_id", s.instanceID).
		Int("code", code).
		Str("bucket", kind.String()).
		Str("message", message).
		Msg("connection closed")
	s.publishStatus(StateClosed, kind.String())

	switch kind {
	case KindSignOut:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.deps.store.Wipe(ctx, s.instanceID); err != nil {
			s.deps.log.Error().Str("instance_id", s.instanceID).Err(err).Msg("credential wipe failed")
		}
		cancel()
		s.deps.remove(s.instanceID)
	case KindBadSession:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.deps.store.Wipe(ctx, s.instanceID); err != nil {
			s.deps.log.Error().Str("instance_id", s.instanceID).Err(err).Msg("credential wipe failed")
		}
		cancel()
	}
}

// scheduleRetryLocked arms the single authoritative reconnect timer,
// superseding any previous one.
func (s *Session) scheduleRetryLocked(forceNew bool, delay time.Duration, kind CloseKind) {
	s.cancelRetryLocked()
	metrics.Reconnects.WithLabelValues(kind.String()).Inc()
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.retryTimer = nil
		s.mu.Unlock()
		if err := s.Start(context.Background(), forceNew); err != nil && !errors.Is(err, ErrAlreadyConnected) {
			s.deps.log.Warn().Str("instance_id", s.instanceID).Err(err).Msg("scheduled reconnect failed")
		}
	})
}

// cancelRetryLocked is idempotent; stopping a fired or absent timer is fine.
func (s *Session) cancelRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// detachConnLocked invalidates the current attempt and hands the connection
// back for closing outside the lock. A stale in-flight dial keeps its gate
// slot until it resolves, so concurrent handshakes never exceed the gate.
func (s *Session) detachConnLocked() transport.Conn {
	s.epoch++
	s.stopMonitorLocked()
	if !s.dialing {
		s.releaseGateLocked()
	}
	c := s.conn
	s.conn = nil
	return c
}

func (s *Session) releaseGateLocked() {
	if s.gateHeld {
		s.gateHeld = false
		s.deps.gate.Release()
	}
}

func (s *Session) stopMonitorLocked() {
	if s.monitorCancel != nil {
		s.monitorCancel()
		s.monitorCancel = nil
	}
}

func (s *Session) clearArtifactsLocked() {
	s.qr = nil
	s.pairing = nil
	if s.qrTimer != nil {
		s.qrTimer.Stop()
		s.qrTimer = nil
	}
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.deps.hooks.OnStateChange != nil {
		s.deps.hooks.OnStateChange(s.instanceID, st)
	}
}

func (s *Session) notifyArtifactLocked() {
	if s.artifactCh != nil {
		close(s.artifactCh)
		s.artifactCh = nil
	}
}

func (s *Session) armArtifactWaitLocked() <-chan struct{} {
	if s.artifactCh == nil {
		s.artifactCh = make(chan struct{})
	}
	return s.artifactCh
}

func (s *Session) publishStatus(st State, reason string) {
	if s.deps.realtime == nil {
		return
	}
	s.deps.realtime.Publish(ws.WsEvent{
		Event: ws.EventInstanceStatusChanged,
		Data: ws.InstanceStatusChangedData{
			InstanceID:  s.instanceID,
			State:       string(st),
			IsConnected: st == StateOpen,
			Reason:      reason,
		},
	})
}

// QRStatus is the outcome of a QR or pairing request.
type QRStatus string

const (
	QRStatusReady     QRStatus = "ready"
	QRStatusPending   QRStatus = "pending"
	QRStatusConnected QRStatus = "connected"
)

type QRResult struct {
	Status    QRStatus
	Artifact  *QRArtifact
	ExpiresAt time.Time
}

type PairingResult struct {
	Status QRStatus
	Code   string
}

// RequestQR returns a cached unexpired artifact immediately when present,
// otherwise waits up to the configured bound for the transport to produce
// one. Never blocks indefinitely.
func (s *Session) RequestQR(ctx context.Context, forceNew bool) (*QRResult, error) {
	s.mu.Lock()
	if s.state == StateOpen && !forceNew {
		s.mu.Unlock()
		return &QRResult{Status: QRStatusConnected}, nil
	}
	if !forceNew {
		if art := s.qrLocked(); art != nil {
			res := s.qrResultLocked(art)
			s.mu.Unlock()
			return res, nil
		}
	}
	s.phoneNumber = "" // QR flow, not pairing
	needStart := forceNew || !s.state.active()
	ready := s.armArtifactWaitLocked()
	s.mu.Unlock()

	// The bound covers the whole operation, including time spent queued at
	// the admission gate.
	wctx, cancel := context.WithTimeout(ctx, s.deps.cfg.QRWait)
	defer cancel()

	if needStart {
		if err := s.Start(wctx, forceNew); err != nil && !errors.Is(err, ErrAlreadyConnected) {
			return nil, err
		}
	}

	select {
	case <-ready:
	case <-wctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &QRResult{Status: QRStatusPending}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen {
		return &QRResult{Status: QRStatusConnected}, nil
	}
	if art := s.qrLocked(); art != nil {
		return s.qrResultLocked(art), nil
	}
	return &QRResult{Status: QRStatusPending}, nil
}

// qrLocked returns the cached artifact only while unexpired.
func (s *Session) qrLocked() *QRArtifact {
	if s.qr == nil {
		return nil
	}
	if time.Since(s.qr.IssuedAt) >= s.deps.cfg.QRTTL {
		return nil
	}
	return s.qr
}

func (s *Session) qrResultLocked(art *QRArtifact) *QRResult {
	return &QRResult{
		Status:    QRStatusReady,
		Artifact:  art,
		ExpiresAt: art.IssuedAt.Add(s.deps.cfg.QRTTL),
	}
}

// RequestPairing tears down any existing connection, wipes credentials and
// restarts with the phone number attached. Pairing requires a clean device
// registration.
func (s *Session) RequestPairing(ctx context.Context, phoneNumber string) (*PairingResult, error) {
	phone, err := helper.NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.phoneNumber = phone
	ready := s.armArtifactWaitLocked()
	s.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, s.deps.cfg.PairWait)
	defer cancel()

	if err := s.Start(wctx, true); err != nil {
		return nil, err
	}

	select {
	case <-ready:
	case <-wctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &PairingResult{Status: QRStatusPending}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairing != nil {
		return &PairingResult{Status: QRStatusReady, Code: s.pairing.Code}, nil
	}
	if s.state == StateOpen {
		return &PairingResult{Status: QRStatusConnected}, nil
	}
	return &PairingResult{Status: QRStatusPending}, nil
}

// Send delivers one text message. Fails fast when there is no open
// connection; a send that dies mid-connection kicks the reconnect path and
// surfaces the original failure.
func (s *Session) Send(ctx context.Context, to, body string) (*transport.Receipt, error) {
	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		metrics.MessagesFailed.WithLabelValues("not_connected").Inc()
		return nil, ErrNotConnected
	}
	conn := s.conn
	epoch := s.epoch
	s.mu.Unlock()

	receipt, err := conn.SendText(ctx, to, body)
	if err != nil {
		if !conn.Connected() {
			s.handleClosed(epoch, transport.CloseConnectionLost, "send failed: "+err.Error())
			metrics.MessagesFailed.WithLabelValues("connection_lost").Inc()
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		metrics.MessagesFailed.WithLabelValues("send_error").Inc()
		return nil, err
	}
	metrics.MessagesSent.Inc()
	return receipt, nil
}

// Disconnect tears the session down to Closed and cancels any pending
// reconnect. With wipe it also logs the device out remotely and removes the
// stored credentials.
func (s *Session) Disconnect(ctx context.Context, wipe bool) error {
	s.mu.Lock()
	s.cancelRetryLocked()
	wasOpen := s.state == StateOpen
	conn := s.detachConnLocked()
	s.clearArtifactsLocked()
	s.phoneNumber = ""
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if conn != nil {
		if wipe {
			if err := conn.Logout(ctx); err != nil {
				s.deps.log.Warn().Str("instance_id", s.instanceID).Err(err).Msg("remote logout failed")
			}
		}
		conn.Close()
	}
	if wasOpen {
		metrics.SessionsActive.Dec()
	}
	if wipe {
		if err := s.deps.store.Wipe(ctx, s.instanceID); err != nil {
			return fmt.Errorf("wipe credentials: %w", err)
		}
	}
	s.publishStatus(StateClosed, "disconnect")
	return nil
}

// shutdown is the registry-removal teardown: no wipe, no events.
func (s *Session) shutdown() {
	s.mu.Lock()
	s.cancelRetryLocked()
	wasOpen := s.state == StateOpen
	conn := s.detachConnLocked()
	s.clearArtifactsLocked()
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasOpen {
		metrics.SessionsActive.Dec()
	}
}

// reviveIfDormant restarts a Closed session that has no pending retry and
// valid stored credentials. Used by the recovery sweeper; never forces a new
// credential cycle and never overrides an in-flight attempt.
func (s *Session) reviveIfDormant(ctx context.Context) {
	s.mu.Lock()
	dormant := s.state == StateClosed && s.retryTimer == nil && !s.starting
	s.mu.Unlock()
	if !dormant {
		return
	}

	creds, err := s.deps.store.Load(ctx, s.instanceID)
	if err != nil || creds == nil || !creds.Registered() {
		return
	}

	s.deps.log.Info().Str("instance_id", s.instanceID).Msg("sweeper reviving dormant session")
	if err := s.Start(ctx, false); err != nil && !errors.Is(err, ErrAlreadyConnected) {
		s.deps.log.Warn().Str("instance_id", s.instanceID).Err(err).Msg("sweeper revive failed")
	}
}

// Status is a point-in-time snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		InstanceID:        s.instanceID,
		State:             s.state,
		Connected:         s.state == StateOpen,
		QRPresent:         s.qrLocked() != nil,
		PairingPresent:    s.pairing != nil,
		HeartbeatFailures: s.hbFailures,
	}
	if s.lastCloseKind != KindNone {
		st.LastCloseReason = s.lastCloseKind.String()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
