package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"apigate/internal/models"

	"github.com/gorilla/mux"
)

// Limit returns middleware that evaluates the given policies in order,
// short-circuiting on the first denial. Response headers always reflect the
// policy that made the final decision: the denying policy, or the last
// non-skipped policy on admission. On admission the decision's telemetry is
// attached to the request context for downstream handlers; on denial a
// structured 429 is written and the handler is never invoked.
func Limit(policies ...*Policy) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var rollbacks []func()

			for _, p := range policies {
				decision := p.evaluateSafe(r)
				if decision.Skipped {
					continue
				}

				setRateLimitHeaders(w, decision)
				r = r.WithContext(ContextWithTelemetry(r.Context(), decision.Telemetry))

				if !decision.Admitted {
					writeDenial(w, p, decision)
					return
				}

				if p.cfg.CountSuccessOnly {
					policy, key := p, decision.Key
					ctx := context.WithoutCancel(r.Context())
					rollbacks = append(rollbacks, func() {
						if err := policy.store.Decrement(ctx, key); err != nil {
							slog.Error("Failed to roll back successful request",
								"scope", policy.cfg.Scope,
								"key", key,
								"error", err,
							)
						}
					})
				}
			}

			if len(rollbacks) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			// Success rollback needs the final status, so record it.
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < http.StatusBadRequest {
				for _, rollback := range rollbacks {
					rollback()
				}
			}
		})
	}
}

// Slow returns middleware applying the throttle's advisory delay before the
// handler runs. A delayed request parks on a timer without blocking other
// requests; if the client goes away while parked, the continuation is
// abandoned and the handler is never invoked.
func Slow(t *Throttle) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if delay := t.Delay(r); delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-r.Context().Done():
					return
				case <-timer.C:
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets the draft standard rate limit headers. Reset is
// delta seconds until the window rolls over.
func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("RateLimit-Limit", strconv.Itoa(d.Telemetry.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(d.Telemetry.Remaining))
	w.Header().Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(d.ResetAfter)))
}

func writeDenial(w http.ResponseWriter, p *Policy, d Decision) {
	retryAfter := ceilSeconds(d.RetryAfter)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(models.NewRateLimitResponse(p.cfg.DenyError, p.cfg.DenyMessage, retryAfter))

	slog.Warn("Rate limit exceeded",
		"scope", p.cfg.Scope,
		"key", d.Key,
		"limit", d.Telemetry.Limit,
		"retry_after", retryAfter,
	)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// statusRecorder captures the response status for post-handler accounting.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}
