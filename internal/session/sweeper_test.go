package session

import (
	"context"
	"testing"
	"time"

	"gowa-fleet/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRevivesDormantSession(t *testing.T) {
	ft := &fakeTransport{}
	fs := newFakeStore()
	r := newTestRegistry(ft, fs, Hooks{})

	s := r.GetOrCreate("tenant-1")
	conn := waitConn(t, ft, 0)
	conn.emit(transport.OpenedEvent{})
	require.Eventually(t, func() bool { return s.Status().Connected },
		time.Second, 2*time.Millisecond)

	// disconnect without wipe: Closed, credentials intact, no pending timer
	require.NoError(t, s.Disconnect(context.Background(), false))
	require.True(t, fs.has("tenant-1"))

	r.Sweep(context.Background())
	require.Eventually(t, func() bool { return ft.dialCount() == 2 },
		time.Second, 2*time.Millisecond)
}

func TestSweepSkipsSessionWithoutCredentials(t *testing.T) {
	ft := &fakeTransport{}
	fs := newFakeStore()
	r := newTestRegistry(ft, fs, Hooks{})

	s := r.GetOrCreate("tenant-1")
	conn := waitConn(t, ft, 0)
	conn.emit(transport.OpenedEvent{})
	require.Eventually(t, func() bool { return s.Status().Connected },
		time.Second, 2*time.Millisecond)

	require.NoError(t, s.Disconnect(context.Background(), true))
	require.False(t, fs.has("tenant-1"))

	r.Sweep(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ft.dialCount())
}

func TestSweepSkipsSessionWithPendingRetry(t *testing.T) {
	ft := &fakeTransport{}
	fs := newFakeStore()
	r := newTestRegistry(ft, fs, Hooks{})

	s := r.GetOrCreate("tenant-1")
	conn := waitConn(t, ft, 0)
	conn.emit(transport.OpenedEvent{})
	require.Eventually(t, func() bool { return s.Status().Connected },
		time.Second, 2*time.Millisecond)

	// conflict close arms a long retry timer; the sweeper must not jump it
	conn.emit(transport.ClosedEvent{Code: transport.CloseConflict, Message: "replaced"})
	require.Eventually(t, func() bool { return s.Status().State == StateClosed },
		time.Second, 2*time.Millisecond)

	r.Sweep(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ft.dialCount())

	// the original timer still fires on schedule
	require.Eventually(t, func() bool { return ft.dialCount() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestSweepIgnoresOpenSession(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestRegistry(ft, newFakeStore("tenant-1"), Hooks{})

	s := r.GetOrCreate("tenant-1")
	conn := waitConn(t, ft, 0)
	conn.emit(transport.OpenedEvent{})
	require.Eventually(t, func() bool { return s.Status().Connected },
		time.Second, 2*time.Millisecond)

	r.Sweep(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ft.dialCount())
}
