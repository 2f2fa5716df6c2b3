package ratelimit

import (
	"log/slog"
	"net/http"
	"time"
)

// ThrottleConfig configures the progressive speed throttle. Like
// PolicyConfig it is built once at startup and never mutated.
type ThrottleConfig struct {
	Scope      string
	Window     time.Duration
	DelayAfter int           // Requests per window served without delay
	DelayStep  time.Duration // Added delay per request past DelayAfter
	MaxDelay   time.Duration // Delay cap
	Skip       func(*http.Request) bool
}

// Throttle slows down clients that burst past a threshold instead of denying
// them. It shares the counter mechanics of limiter policies but its decision
// is purely advisory backpressure: the computed delay is applied before the
// handler runs and no request is ever rejected.
type Throttle struct {
	cfg     ThrottleConfig
	store   CounterStore
	metrics MetricsRecorder
}

// NewThrottle binds a throttle configuration to a counter store.
func NewThrottle(cfg ThrottleConfig, store CounterStore) *Throttle {
	return &Throttle{cfg: cfg, store: store}
}

// Delay counts the request and returns how long to park it before invoking
// the downstream handler. The delay grows linearly with requests past
// DelayAfter and never exceeds MaxDelay. Skipped requests and store errors
// yield zero delay.
func (t *Throttle) Delay(r *http.Request) time.Duration {
	if t.cfg.Skip != nil && t.cfg.Skip(r) {
		return 0
	}

	key := Key(t.cfg.Scope, ClientIP(r))
	snap, err := t.store.Increment(r.Context(), key, t.cfg.Window)
	if err != nil {
		slog.Error("Counter store unavailable, skipping throttle",
			"scope", t.cfg.Scope,
			"key", key,
			"error", err,
		)
		return 0
	}

	var delay time.Duration
	if excess := snap.Count - t.cfg.DelayAfter; excess > 0 {
		delay = time.Duration(excess) * t.cfg.DelayStep
		if delay > t.cfg.MaxDelay {
			delay = t.cfg.MaxDelay
		}
	}

	// Zero delays are recorded too; the histogram shows how much traffic
	// runs within the free allowance.
	if t.metrics != nil {
		t.metrics.RecordDelay(r.Context(), t.cfg.Scope, delay)
	}
	return delay
}
