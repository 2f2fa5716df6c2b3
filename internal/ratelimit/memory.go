package ratelimit

import (
	"context"
	"sync"
	"time"
)

// counter holds one window's state. The window length is captured at
// creation so the sweep can expire entries without policy knowledge.
type counter struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

func (c *counter) expired(now time.Time) bool {
	return now.Sub(c.windowStart) >= c.window
}

// MemoryStore is an in-memory CounterStore. Counters are created lazily on
// first increment, reset in place once their window elapses, and evicted by
// a background sweep so the map does not grow unboundedly with distinct
// keys. State lives for the server process only; each instance in a
// multi-instance deployment counts independently.
type MemoryStore struct {
	cleanupInterval time.Duration

	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
	done     chan struct{}
	closed   bool
}

// NewMemoryStore creates a memory-backed counter store and starts a
// background goroutine that sweeps expired counters at the given interval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		cleanupInterval: cleanupInterval,
		counters:        make(map[string]*counter),
		now:             time.Now,
		done:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Increment adds one request to the key's counter, creating or resetting it
// when the window has elapsed. The read-modify-write runs under the store
// mutex, so concurrent increments for one key are linearized.
func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Snapshot, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || c.expired(now) {
		c = &counter{count: 1, windowStart: now, window: window}
		m.counters[key] = c
	} else {
		c.count++
	}

	return Snapshot{Count: c.count, ResetAt: c.windowStart.Add(c.window)}, nil
}

// Peek returns the key's live snapshot without mutating it. Expired counters
// are purged on the way out.
func (m *MemoryStore) Peek(_ context.Context, key string) (Snapshot, bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		return Snapshot{}, false, nil
	}
	if c.expired(now) {
		delete(m.counters, key)
		return Snapshot{}, false, nil
	}

	return Snapshot{Count: c.count, ResetAt: c.windowStart.Add(c.window)}, true, nil
}

// Decrement rolls back one request from the key's counter. Decrements that
// target an expired or absent window are discarded, and the count never goes
// below zero.
func (m *MemoryStore) Decrement(_ context.Context, key string) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || c.expired(now) {
		return nil
	}
	if c.count > 0 {
		c.count--
	}
	return nil
}

// Close stops the background sweep goroutine.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// cleanup periodically evicts counters whose window has elapsed.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryStore) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, c := range m.counters {
		if c.expired(now) {
			delete(m.counters, key)
		}
	}
}
