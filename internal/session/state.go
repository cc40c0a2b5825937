package session

import "time"

// State is a session's lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateConnecting      State = "connecting"
	StateAwaitingQR      State = "awaiting_qr"
	StateAwaitingPairing State = "awaiting_pairing"
	StateOpen            State = "open"
	StateClosed          State = "closed"
	StateErrored         State = "errored"
)

// establishing reports whether the state belongs to the handshake phase,
// i.e. the admission gate slot is still held.
func (s State) establishing() bool {
	switch s {
	case StateConnecting, StateAwaitingQR, StateAwaitingPairing:
		return true
	}
	return false
}

func (s State) active() bool {
	return s.establishing() || s == StateOpen
}

// QRArtifact is a cached QR challenge. Valid until IssuedAt+TTL regardless
// of what the connection does afterwards.
type QRArtifact struct {
	Payload  string
	IssuedAt time.Time
}

// PairingArtifact is a cached phone-number pairing code.
type PairingArtifact struct {
	PhoneNumber string
	Code        string
	IssuedAt    time.Time
}

// Status is the read-only snapshot exposed over the API.
type Status struct {
	InstanceID        string `json:"instanceId"`
	State             State  `json:"state"`
	Connected         bool   `json:"connected"`
	QRPresent         bool   `json:"qrPresent"`
	PairingPresent    bool   `json:"pairingPresent"`
	HeartbeatFailures int    `json:"heartbeatFailures,omitempty"`
	LastCloseReason   string `json:"lastCloseReason,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}

// Hooks are optional instrumentation callbacks. They are invoked with the
// session lock held and must not call back into the session.
type Hooks struct {
	OnStateChange func(instanceID string, state State)
}
