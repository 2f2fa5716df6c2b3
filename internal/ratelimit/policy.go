package ratelimit

import (
	"log/slog"
	"net/http"
	"time"
)

// PolicyConfig is the immutable configuration of one named limiter policy.
// Instances are constructed once at startup and never mutated.
type PolicyConfig struct {
	// Scope labels the policy's slice of the key space ("global", "auth",
	// "users", ...). Distinct policies never share counters.
	Scope string

	// Window is the fixed window length; Max the admitted requests per
	// window per key.
	Window time.Duration
	Max    int

	// Skip exempts matching requests entirely: always admitted, no counter
	// consumed. Optional.
	Skip func(*http.Request) bool

	// UserScoped keys buckets by authenticated user id ("anonymous" when
	// absent) instead of client IP.
	UserScoped bool

	// CountSuccessOnly rolls the counted request back when it completes
	// with a success status, so only failed attempts spend budget.
	CountSuccessOnly bool

	// DenyError and DenyMessage populate the 429 response body.
	DenyError   string
	DenyMessage string
}

// Policy evaluates requests against one fixed-window budget. Safe for
// concurrent use; all mutable state lives in the counter store.
type Policy struct {
	cfg     PolicyConfig
	store   CounterStore
	metrics MetricsRecorder
	now     func() time.Time
}

// NewPolicy binds a policy configuration to a counter store.
func NewPolicy(cfg PolicyConfig, store CounterStore) *Policy {
	if cfg.DenyError == "" {
		cfg.DenyError = "Too many requests"
	}
	if cfg.DenyMessage == "" {
		cfg.DenyMessage = "Please try again later"
	}
	return &Policy{cfg: cfg, store: store, now: time.Now}
}

// Scope returns the policy's scope label.
func (p *Policy) Scope() string {
	return p.cfg.Scope
}

// Evaluate decides whether one request is admitted under this policy. Store
// errors fail open: the request is admitted and the failure is logged.
func (p *Policy) Evaluate(r *http.Request) Decision {
	if p.cfg.Skip != nil && p.cfg.Skip(r) {
		return Decision{Admitted: true, Skipped: true}
	}

	key := p.key(r)
	snap, err := p.store.Increment(r.Context(), key, p.cfg.Window)
	if err != nil {
		slog.Error("Counter store unavailable, admitting request",
			"scope", p.cfg.Scope,
			"key", key,
			"error", err,
		)
		return Decision{Admitted: true, Skipped: true, Key: key}
	}

	remaining := p.cfg.Max - snap.Count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Admitted: snap.Count <= p.cfg.Max,
		Key:      key,
		Telemetry: Telemetry{
			Limit:     p.cfg.Max,
			Current:   snap.Count,
			Remaining: remaining,
			ResetAt:   snap.ResetAt,
		},
		ResetAfter: snap.ResetAt.Sub(p.now()),
	}
	if !d.Admitted {
		d.RetryAfter = d.ResetAfter
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}

	if p.metrics != nil {
		p.metrics.RecordDecision(r.Context(), p.cfg.Scope, d.Admitted)
	}
	return d
}

// evaluateSafe guards Evaluate against bugs in limiter logic. A panic during
// evaluation must not take down request processing, so it is recovered and
// the request is admitted.
func (p *Policy) evaluateSafe(r *http.Request) (d Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Rate limit evaluation panicked, admitting request",
				"scope", p.cfg.Scope,
				"panic", rec,
			)
			d = Decision{Admitted: true, Skipped: true}
		}
	}()
	return p.Evaluate(r)
}

// key resolves the bucket key for the request under this policy's scope.
func (p *Policy) key(r *http.Request) string {
	if p.cfg.UserScoped {
		id, ok := UserFromContext(r.Context())
		if !ok {
			id = "anonymous"
		}
		return Key(p.cfg.Scope, id)
	}
	return Key(p.cfg.Scope, ClientIP(r))
}
