package ratelimit

import (
	"context"
	"time"
)

// Snapshot is the state of one window counter after a store operation.
type Snapshot struct {
	Count   int       // Requests counted in the current window
	ResetAt time.Time // When the window resets (windowStart + window)
}

// CounterStore tracks fixed-window counters per bucket key. The store
// exclusively owns all counter state; policies never mutate counts directly.
// Implementations must be safe for concurrent use and must apply increments
// for one key in arrival order.
type CounterStore interface {
	// Increment adds one request to the key's counter and returns the
	// post-increment snapshot. A missing or expired counter is created
	// fresh with count 1 and windowStart now.
	Increment(ctx context.Context, key string, window time.Duration) (Snapshot, error)

	// Peek returns the current snapshot without consuming a slot. The
	// second return is false when no live counter exists for the key.
	Peek(ctx context.Context, key string) (Snapshot, bool, error)

	// Decrement rolls back one counted request, used by policies that do
	// not count successful requests. It only touches a live counter with a
	// positive count; a decrement targeting an expired or absent window is
	// discarded.
	Decrement(ctx context.Context, key string) error

	// Close stops background work and releases resources.
	Close()
}
