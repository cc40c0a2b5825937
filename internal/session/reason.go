package session

import "gowa-fleet/internal/transport"

// CloseKind buckets a raw transport close code into one retry policy.
type CloseKind int

const (
	// KindNone: the session has never been closed by the transport.
	KindNone CloseKind = iota
	// KindSignOut: signed out by the user or server. Terminal: wipe
	// credentials and destroy the session.
	KindSignOut
	// KindBadSession: device record unusable (mismatch, outdated client,
	// ban). Terminal: wipe credentials, keep the session for an explicit
	// forced restart.
	KindBadSession
	// KindAuthFailure: unauthorized. Wipe credentials and restart fresh
	// after a short delay.
	KindAuthFailure
	// KindTransient: stream/protocol hiccup. Gentle retry, credentials and
	// cached QR preserved.
	KindTransient
	// KindChallengeTimeout: QR challenge expired without a scan. Retry
	// without forcing a new credential cycle.
	KindChallengeTimeout
	// KindServerTerminated: server is shedding load; back off longer.
	KindServerTerminated
	// KindConflict: another connection is active elsewhere; back off hardest.
	KindConflict
	// KindRetryable: anything else where reconnecting is advisable; uses
	// randomized exponential backoff.
	KindRetryable
)

func (k CloseKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSignOut:
		return "sign_out"
	case KindBadSession:
		return "bad_session"
	case KindAuthFailure:
		return "auth_failure"
	case KindTransient:
		return "transient"
	case KindChallengeTimeout:
		return "challenge_timeout"
	case KindServerTerminated:
		return "server_terminated"
	case KindConflict:
		return "conflict"
	default:
		return "retryable"
	}
}

// classifyClose maps a normalized transport close code to its bucket.
// New codes are a one-line addition here.
func classifyClose(code int) CloseKind {
	switch code {
	case transport.CloseLoggedOut:
		return KindSignOut
	case transport.CloseBadSession, transport.CloseForbidden, transport.CloseTemporaryBan:
		return KindBadSession
	case transport.CloseUnauthorized:
		return KindAuthFailure
	case transport.CloseConnectionLost, transport.CloseRestartRequired:
		return KindTransient
	case transport.CloseChallengeTimeout:
		return KindChallengeTimeout
	case transport.CloseServiceUnavailable:
		return KindServerTerminated
	case transport.CloseConflict:
		return KindConflict
	default:
		return KindRetryable
	}
}
