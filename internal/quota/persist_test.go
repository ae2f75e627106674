package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu    sync.Mutex
	snaps []BucketSnapshot
	gate  chan struct{}
	fail  bool
}

func (w *recordingWriter) WriteSnapshot(ctx context.Context, snap BucketSnapshot) error {
	if w.gate != nil {
		<-w.gate
	}
	if w.fail {
		return errors.New("backend down")
	}
	w.mu.Lock()
	w.snaps = append(w.snaps, snap)
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.snaps)
}

func TestPersisterDrainsQueue(t *testing.T) {
	w := &recordingWriter{}
	p := NewAsyncPersister(w, 16)

	for i := 0; i < 5; i++ {
		assert.True(t, p.Enqueue(BucketSnapshot{Identity: "user1"}))
	}
	p.Close()

	assert.Equal(t, 5, w.count())
	assert.Equal(t, uint64(0), p.Dropped())
}

func TestPersisterDropsOnBackpressure(t *testing.T) {
	w := &recordingWriter{gate: make(chan struct{})}
	p := NewAsyncPersister(w, 1)

	// First snapshot is picked up by the drain goroutine and blocks on the
	// gate; the second fills the queue; the third must be dropped without
	// blocking the caller.
	p.Enqueue(BucketSnapshot{Identity: "a"})
	for p.Enqueue(BucketSnapshot{Identity: "b"}) && p.Dropped() == 0 {
		// Keep pushing until the queue is saturated.
	}

	assert.Greater(t, p.Dropped(), uint64(0))

	close(w.gate)
	p.Close()
}

func TestPersisterWriteFailureDoesNotStopDrain(t *testing.T) {
	w := &recordingWriter{fail: true}
	p := NewAsyncPersister(w, 8)

	p.Enqueue(BucketSnapshot{Identity: "a"})
	p.Enqueue(BucketSnapshot{Identity: "b"})
	p.Close()

	// Failed writes are logged and discarded; nothing recorded, no panic.
	assert.Equal(t, 0, w.count())
}

func TestLimiterDecisionUnaffectedByPersistence(t *testing.T) {
	w := &recordingWriter{fail: true}
	p := NewAsyncPersister(w, 2)
	defer p.Close()

	clk := newFakeClock()
	rl := NewRateLimiter(DefaultTierPolicy(), WithClock(clk.Now), WithPersister(p))

	start := time.Now()
	for i := 0; i < 100; i++ {
		res, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	// The decision path only ever enqueues; even with the backend failing it
	// must not stall.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLimiterEnqueuesSnapshotsOnSuccess(t *testing.T) {
	w := &recordingWriter{}
	p := NewAsyncPersister(w, 16)

	clk := newFakeClock()
	rl := NewRateLimiter(DefaultTierPolicy(), WithClock(clk.Now), WithPersister(p))

	_, err := rl.CheckAndConsume("user1", TierPro, "/identify", "")
	require.NoError(t, err)
	p.Close()

	require.Equal(t, 1, w.count())
	snap := w.snaps[0]
	assert.Equal(t, "user1", snap.Identity)
	assert.Equal(t, TierPro, snap.Tier)
	assert.Equal(t, 999.0, snap.AvailableTokens)
	assert.Equal(t, uint64(1), snap.TotalRequests)
}
