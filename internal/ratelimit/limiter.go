// Package ratelimit provides request admission control for HTTP APIs using
// fixed-window counters. It supports multiple named policies with independent
// key spaces (global, auth, api, per-endpoint, per-user), a progressive speed
// throttle that delays instead of denying, and HTTP middleware that sets
// standard RateLimit response headers.
//
// All policies fail open: a counter store error or a bug in policy evaluation
// admits the request rather than blocking it. Enforcement here is best-effort
// abuse mitigation, not an authorization boundary.
package ratelimit

import (
	"context"
	"encoding/json"
	"time"
)

// Telemetry describes the rate limit state observed by one request. It is
// derived from a counter snapshot at evaluation time, never stored.
type Telemetry struct {
	Limit     int       // Maximum requests per window
	Current   int       // Requests counted so far, including this one
	Remaining int       // Requests left in the window, floored at zero
	ResetAt   time.Time // When the current window resets
}

// MarshalJSON renders telemetry in the shape handlers expose to clients.
func (t Telemetry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Limit       int   `json:"limit"`
		Current     int   `json:"current"`
		Remaining   int   `json:"remaining"`
		ResetTime   int64 `json:"resetTime"`
		ResetTimeMs int64 `json:"resetTimeMs"`
	}{t.Limit, t.Current, t.Remaining, t.ResetAt.Unix(), t.ResetAt.UnixMilli()})
}

// MetricsRecorder receives limiter activity for export: one call per
// non-skipped policy decision and one per throttle delay computation.
// Implementations must be safe for concurrent use. A nil recorder disables
// recording.
type MetricsRecorder interface {
	RecordDecision(ctx context.Context, scope string, admitted bool)
	RecordDelay(ctx context.Context, scope string, delay time.Duration)
}

// Decision is the outcome of evaluating one policy against one request.
type Decision struct {
	Admitted   bool
	Skipped    bool   // Exempt via skip predicate or fail-open; no counter consumed
	Key        string // Bucket key the decision was made against
	Telemetry  Telemetry
	ResetAfter time.Duration // Time until the window resets
	RetryAfter time.Duration // Meaningful only when denied
}

type contextKey string

const (
	telemetryContextKey contextKey = "rate_limit_telemetry"
	userContextKey      contextKey = "user_id"
)

// ContextWithUser returns a context carrying the authenticated user id.
// Identity resolution itself happens upstream; this package only consumes it.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// UserFromContext returns the authenticated user id attached by the upstream
// auth layer, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userContextKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ContextWithTelemetry attaches rate limit telemetry for downstream handlers.
// When several policies evaluate a request, the last one wins.
func ContextWithTelemetry(ctx context.Context, t Telemetry) context.Context {
	return context.WithValue(ctx, telemetryContextKey, t)
}

// TelemetryFromContext returns the telemetry of the policy that made the
// final admission decision for this request.
func TelemetryFromContext(ctx context.Context) (Telemetry, bool) {
	t, ok := ctx.Value(telemetryContextKey).(Telemetry)
	return t, ok
}
