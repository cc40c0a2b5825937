package session

import "errors"

var (
	// ErrNotConnected is returned for sends on a session with no open
	// connection. Not retried.
	ErrNotConnected = errors.New("session is not connected")

	// ErrConnectionLost is returned when a send failed mid-connection; the
	// reconnect path has already been triggered.
	ErrConnectionLost = errors.New("connection lost")

	// ErrAdmissionTimeout is returned when the admission gate never freed a
	// slot within the caller's deadline.
	ErrAdmissionTimeout = errors.New("admission gate timeout")

	// ErrAlreadyConnected is returned by Start(false) on an open session.
	ErrAlreadyConnected = errors.New("session already connected")
)
