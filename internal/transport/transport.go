// Package transport is the boundary to the WhatsApp connection library.
// The session manager only sees these interfaces; the real implementation
// lives in whatsmeow.go.
package transport

import (
	"context"
	"time"
)

// Normalized close codes. Stream-error codes from the remote side pass
// through as-is (401, 440, 503, 515, ...); the 4xxx range is adapter-local
// for conditions the library reports as typed events instead of codes.
const (
	CloseConnectionLost     = 0
	CloseUnauthorized       = 401
	CloseForbidden          = 403
	CloseChallengeTimeout   = 408
	CloseConflict           = 440
	CloseServiceUnavailable = 503
	CloseRestartRequired    = 515

	CloseLoggedOut    = 4000 // signed out from the phone or by the server
	CloseBadSession   = 4001 // device record unusable, client outdated, device mismatch
	CloseTemporaryBan = 4002
)

// Event is one lifecycle signal from a live connection.
type Event interface {
	isEvent()
}

// QREvent carries a fresh QR challenge payload.
type QREvent struct {
	Code string
}

// PairingReadyEvent fires when the connection is ready to issue a
// phone-number pairing code.
type PairingReadyEvent struct{}

// OpenedEvent fires when the connection is authenticated and usable.
type OpenedEvent struct{}

// ClosedEvent fires when the connection died, with a normalized code.
type ClosedEvent struct {
	Code    int
	Message string
}

func (QREvent) isEvent()           {}
func (PairingReadyEvent) isEvent() {}
func (OpenedEvent) isEvent()       {}
func (ClosedEvent) isEvent()       {}

// Receipt acknowledges one sent message.
type Receipt struct {
	ID        string
	Timestamp time.Time
}

// Credentials is an opaque persisted device bundle.
type Credentials interface {
	// Registered reports whether the bundle belongs to a fully paired device.
	Registered() bool
}

// Store persists one credential bundle per instance id. Wiping the bundle is
// the sole mechanism for forcing re-registration.
type Store interface {
	// Load returns (nil, nil) when no bundle exists for the instance.
	Load(ctx context.Context, instanceID string) (Credentials, error)
	Save(ctx context.Context, instanceID string, creds Credentials) error
	// Wipe is idempotent.
	Wipe(ctx context.Context, instanceID string) error
	// List returns every instance id with a stored bundle.
	List(ctx context.Context) ([]string, error)
}

// DialOptions tweak one connection attempt.
type DialOptions struct {
	// PhoneNumber switches login from QR challenge to pairing code.
	PhoneNumber string
}

// Transport dials connections. creds may be nil for a fresh registration.
type Transport interface {
	Dial(ctx context.Context, instanceID string, creds Credentials, opts DialOptions) (Conn, error)
}

// Conn is one live connection. Events() is closed when the connection is
// torn down; after a ClosedEvent no further events are delivered.
type Conn interface {
	Events() <-chan Event
	SendText(ctx context.Context, to, body string) (*Receipt, error)
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)
	// Ping probes liveness; it must fail fast on a dead socket.
	Ping(ctx context.Context) error
	Connected() bool
	// Credentials returns the bundle backing this connection, for persisting
	// the instance mapping once registration completes.
	Credentials() Credentials
	// Logout unlinks the device on the remote side (best effort).
	Logout(ctx context.Context) error
	Close()
}
