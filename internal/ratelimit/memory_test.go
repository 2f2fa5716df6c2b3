package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced clock for deterministic window tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*MemoryStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := NewMemoryStore(5 * time.Minute)
	store.now = clock.Now
	t.Cleanup(store.Close)
	return store, clock
}

func TestMemoryStore_IncrementCountsWithinWindow(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	snap, err := store.Increment(ctx, "global:1.2.3.4", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, clock.Now().Add(time.Second), snap.ResetAt)

	snap, err = store.Increment(ctx, "global:1.2.3.4", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count)
}

func TestMemoryStore_WindowResetAfterExpiry(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := store.Increment(ctx, "k", time.Second)
		require.NoError(t, err)
	}

	clock.Advance(1100 * time.Millisecond)

	snap, err := store.Increment(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count, "expired window should reset to a fresh counter")
	assert.Equal(t, clock.Now().Add(time.Second), snap.ResetAt)
}

func TestMemoryStore_DistinctKeysIndependent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Increment(ctx, "global:1.2.3.4", time.Second)
		require.NoError(t, err)
	}

	snap, err := store.Increment(ctx, "global:5.6.7.8", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count)
}

func TestMemoryStore_Peek(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Peek(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Increment(ctx, "k", time.Second)
	require.NoError(t, err)

	snap, ok, err := store.Peek(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Count)

	// Peek never consumes a slot
	snap, ok, err = store.Peek(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Count)

	// An expired counter reads as absent
	clock.Advance(2 * time.Second)
	_, ok, err = store.Peek(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Decrement(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "k", time.Second)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "k", time.Second)
	require.NoError(t, err)

	require.NoError(t, store.Decrement(ctx, "k"))

	snap, ok, err := store.Peek(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Count)
}

func TestMemoryStore_DecrementNeverBelowZero(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "k", time.Second)
	require.NoError(t, err)

	require.NoError(t, store.Decrement(ctx, "k"))
	require.NoError(t, store.Decrement(ctx, "k"))

	snap, ok, err := store.Peek(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, snap.Count)
}

func TestMemoryStore_DecrementDiscardedAfterRollover(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "k", time.Second)
	require.NoError(t, err)

	// The window the request was counted in has expired; the rollback
	// must not touch the next window.
	clock.Advance(1500 * time.Millisecond)
	require.NoError(t, store.Decrement(ctx, "k"))

	snap, err := store.Increment(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count)
}

func TestMemoryStore_DecrementAbsentKey(t *testing.T) {
	store, _ := newTestStore(t)

	assert.NoError(t, store.Decrement(context.Background(), "never-seen"))
}

func TestMemoryStore_EvictExpired(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "ephemeral", time.Second)
	require.NoError(t, err)

	store.mu.Lock()
	_, exists := store.counters["ephemeral"]
	store.mu.Unlock()
	require.True(t, exists)

	clock.Advance(2 * time.Second)
	store.evictExpired()

	store.mu.Lock()
	_, exists = store.counters["ephemeral"]
	store.mu.Unlock()
	assert.False(t, exists, "expired counter should be evicted")
}

func TestMemoryStore_SweepRuns(t *testing.T) {
	store := NewMemoryStore(20 * time.Millisecond)
	defer store.Close()

	_, err := store.Increment(context.Background(), "k", 10*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.counters) == 0
	}, time.Second, 10*time.Millisecond, "sweep should purge the expired counter")
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore(100 * time.Millisecond)
	store.Close()
	// Should not panic on double close
	store.Close()
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore(5 * time.Minute)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", id%5)
			for j := 0; j < 20; j++ {
				_, err := store.Increment(ctx, key, time.Minute)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// 50 goroutines over 5 keys, 20 increments each: no lost updates.
	for i := 0; i < 5; i++ {
		snap, ok, err := store.Peek(ctx, fmt.Sprintf("client-%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 200, snap.Count)
	}
}
