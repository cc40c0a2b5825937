package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"gowa-fleet/internal/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(ft *fakeTransport, fs *fakeStore, hooks Hooks) *Registry {
	return NewRegistry(testConfig(), ft, fs, nil, zerolog.Nop(), hooks)
}

func TestGetOrCreateReturnsSingleSession(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestRegistry(ft, newFakeStore(), Hooks{})

	const callers = 20
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = r.GetOrCreate("tenant-1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}

	// exactly one initial connection attempt despite the stampede
	require.Eventually(t, func() bool { return ft.dialCount() >= 1 },
		time.Second, 2*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ft.dialCount())
}

func TestRemoveIsIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestRegistry(ft, newFakeStore(), Hooks{})

	r.GetOrCreate("tenant-1")
	r.Remove("tenant-1")
	r.Remove("tenant-1")

	_, ok := r.Get("tenant-1")
	assert.False(t, ok)
}

func TestLogoutUnknownInstanceIsNoop(t *testing.T) {
	r := newTestRegistry(&fakeTransport{}, newFakeStore(), Hooks{})
	assert.NoError(t, r.Logout(context.Background(), "ghost"))
}

func TestLogoutWipesAndRemoves(t *testing.T) {
	ft := &fakeTransport{}
	fs := newFakeStore()
	r := newTestRegistry(ft, fs, Hooks{})

	s := r.GetOrCreate("tenant-1")
	conn := waitConn(t, ft, 0)
	conn.emit(transport.OpenedEvent{})
	require.Eventually(t, func() bool { return s.Status().Connected },
		time.Second, 2*time.Millisecond)
	require.True(t, fs.has("tenant-1"))

	require.NoError(t, r.Logout(context.Background(), "tenant-1"))

	assert.True(t, conn.wasLoggedOut())
	assert.False(t, fs.has("tenant-1"))
	_, ok := r.Get("tenant-1")
	assert.False(t, ok)
}

func TestListIsSortedAndHealthCounts(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestRegistry(ft, newFakeStore(), Hooks{})

	r.GetOrCreate("bbb")
	r.GetOrCreate("aaa")

	// connect only the first-dialed instance
	conn := waitConn(t, ft, 0)
	conn.emit(transport.OpenedEvent{})
	require.Eventually(t, func() bool {
		active, _ := r.Health()
		return active == 1
	}, time.Second, 2*time.Millisecond)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "aaa", list[0].InstanceID)
	assert.Equal(t, "bbb", list[1].InstanceID)

	active, total := r.Health()
	assert.Equal(t, 1, active)
	assert.Equal(t, 2, total)
}

func TestRestoreAllRevivesStoredInstances(t *testing.T) {
	ft := &fakeTransport{}
	fs := newFakeStore("tenant-a", "tenant-b")
	r := newTestRegistry(ft, fs, Hooks{})

	require.NoError(t, r.RestoreAll(context.Background()))

	_, okA := r.Get("tenant-a")
	_, okB := r.Get("tenant-b")
	assert.True(t, okA)
	assert.True(t, okB)
	require.Eventually(t, func() bool { return ft.dialCount() == 2 },
		time.Second, 2*time.Millisecond)
}

// establishTracker counts how many sessions are mid-handshake at once.
type establishTracker struct {
	mu     sync.Mutex
	states map[string]State
	cur    int
	max    int
}

func (tr *establishTracker) hook(id string, st State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.states[id].establishing() {
		tr.cur--
	}
	if st.establishing() {
		tr.cur++
	}
	if tr.cur > tr.max {
		tr.max = tr.cur
	}
	tr.states[id] = st
}

func (tr *establishTracker) peak() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.max
}

func TestAdmissionGateBoundsConcurrentHandshakes(t *testing.T) {
	ft := &fakeTransport{}
	tr := &establishTracker{states: make(map[string]State)}
	r := newTestRegistry(ft, newFakeStore(), Hooks{OnStateChange: tr.hook})

	ids := []string{"t1", "t2", "t3", "t4", "t5"}
	for _, id := range ids {
		r.GetOrCreate(id)
	}

	// only gate-capacity sessions may dial; the rest queue
	require.Eventually(t, func() bool { return ft.dialCount() == 2 },
		time.Second, 2*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, ft.dialCount())

	connecting := 0
	for _, st := range r.List() {
		if st.State == StateConnecting {
			connecting++
		}
	}
	assert.Equal(t, 2, connecting)

	// opening a connection frees its slot for the next waiter
	waitConn(t, ft, 0).emit(transport.OpenedEvent{})
	require.Eventually(t, func() bool { return ft.dialCount() == 3 },
		time.Second, 2*time.Millisecond)

	waitConn(t, ft, 1).emit(transport.OpenedEvent{})
	waitConn(t, ft, 2).emit(transport.OpenedEvent{})
	require.Eventually(t, func() bool { return ft.dialCount() == 5 },
		time.Second, 2*time.Millisecond)

	assert.LessOrEqual(t, tr.peak(), 2, "handshake concurrency exceeded the gate")
}
