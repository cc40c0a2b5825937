package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateCapacity(t *testing.T) {
	g := NewGate(2)

	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))

	// third caller must queue and time out
	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := g.Acquire(tctx)
	assert.ErrorIs(t, err, ErrAdmissionTimeout)

	// a freed slot makes the next acquire pass again
	g.Release()
	require.NoError(t, g.Acquire(ctx))
}

func TestGateServesWaitersInArrivalOrder(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background()))

	acquired := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		before := i
		// queue them one at a time so arrival order is deterministic
		go func() {
			if err := g.Acquire(context.Background()); err == nil {
				acquired <- i
			}
		}()
		require.Eventually(t, func() bool { return g.Waiting() == before+1 },
			time.Second, 2*time.Millisecond)
	}

	for want := 0; want < 3; want++ {
		g.Release()
		select {
		case got := <-acquired:
			assert.Equal(t, want, got, "slot went to the wrong waiter")
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never acquired", want)
		}
	}
}

func TestGateCancelledWaiterLeavesQueue(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Acquire(ctx) }()
	require.Eventually(t, func() bool { return g.Waiting() == 1 },
		time.Second, 2*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, ErrAdmissionTimeout)
	require.Eventually(t, func() bool { return g.Waiting() == 0 },
		time.Second, 2*time.Millisecond)

	// the slot is not leaked to the dead waiter
	g.Release()
	tctx, tcancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer tcancel()
	assert.NoError(t, g.Acquire(tctx))
}

func TestGateCapacityFloor(t *testing.T) {
	g := NewGate(0)
	assert.NoError(t, g.Acquire(context.Background()))
}
