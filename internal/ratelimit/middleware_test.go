package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apigate/internal/models"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLimit_SetsHeadersOnAdmission(t *testing.T) {
	p, _ := newTestPolicy(t, PolicyConfig{Scope: "global", Window: time.Minute, Max: 10})
	handler := Limit(p)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("RateLimit-Reset"))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestLimit_DeniesWithStructuredBody(t *testing.T) {
	p, _ := newTestPolicy(t, PolicyConfig{
		Scope:       "auth",
		Window:      time.Minute,
		Max:         1,
		DenyError:   "Too many authentication attempts",
		DenyMessage: "Please wait before trying again",
	})
	handler := Limit(p)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Too many authentication attempts", body.Error)
	assert.Equal(t, "Please wait before trying again", body.Message)
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, body.Code)
	assert.Equal(t, 60, body.RetryAfter)
}

func TestLimit_DeniedRequestNeverReachesHandler(t *testing.T) {
	p, _ := newTestPolicy(t, PolicyConfig{Scope: "global", Window: time.Minute, Max: 1})

	calls := 0
	handler := Limit(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("1.2.3.4"))
	}
	assert.Equal(t, 1, calls, "only the admitted request reaches the handler")
}

func TestLimit_ShortCircuitsOnFirstDenial(t *testing.T) {
	store, _ := newTestStore(t)
	first := NewPolicy(PolicyConfig{Scope: "global", Window: time.Minute, Max: 1, DenyError: "global exceeded"}, store)
	second := NewPolicy(PolicyConfig{Scope: "api", Window: time.Minute, Max: 100}, store)
	handler := Limit(first, second)(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("1.2.3.4"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "global exceeded", body.Error, "the denying policy shapes the response")

	// The second policy was never evaluated for the denied request.
	snap, ok, err := store.Peek(context.Background(), Key("api", "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Count)
}

func TestLimit_HeadersReflectFinalPolicy(t *testing.T) {
	store, _ := newTestStore(t)
	outer := NewPolicy(PolicyConfig{Scope: "global", Window: time.Minute, Max: 100}, store)
	inner := NewPolicy(PolicyConfig{Scope: "users", Window: time.Minute, Max: 5}, store)
	handler := Limit(outer, inner)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))

	// The innermost non-skipped policy wins the header slot.
	assert.Equal(t, "5", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("RateLimit-Remaining"))
}

func TestLimit_TelemetryInContext(t *testing.T) {
	p, _ := newTestPolicy(t, PolicyConfig{Scope: "global", Window: time.Minute, Max: 10})

	var captured Telemetry
	var found bool
	handler := Limit(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, found = TelemetryFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("1.2.3.4"))

	require.True(t, found)
	assert.Equal(t, 10, captured.Limit)
	assert.Equal(t, 1, captured.Current)
	assert.Equal(t, 9, captured.Remaining)
}

func TestLimit_SkippedPolicyLeavesNoTrace(t *testing.T) {
	p, _ := newTestPolicy(t, PolicyConfig{
		Scope:  "global",
		Window: time.Minute,
		Max:    1,
		Skip:   func(*http.Request) bool { return true },
	})
	handler := Limit(p)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("RateLimit-Limit"))
}

func TestLimit_CountSuccessOnlyRollsBackOnSuccess(t *testing.T) {
	store, _ := newTestStore(t)
	p := NewPolicy(PolicyConfig{
		Scope:            "auth",
		Window:           time.Minute,
		Max:              2,
		CountSuccessOnly: true,
	}, store)

	status := http.StatusOK
	handler := Limit(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	// Successful attempts hand their slot back; the budget never drains.
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("1.2.3.4"))
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
	}

	snap, ok, err := store.Peek(context.Background(), Key("auth", "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, snap.Count)

	// Failed attempts stick.
	status = http.StatusUnauthorized
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("1.2.3.4"))
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("1.2.3.4"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "failed attempts exhaust the budget")
}

func TestLimit_FailsOpenOnPanickingStore(t *testing.T) {
	p := NewPolicy(PolicyConfig{Scope: "global", Window: time.Minute, Max: 1}, panickingStore{})
	handler := Limit(p)(okHandler())

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, requestFrom("1.2.3.4"))
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSlow_NoDelayPassesThrough(t *testing.T) {
	store, _ := newTestStore(t)
	th := NewThrottle(ThrottleConfig{
		Scope:      "speed",
		Window:     time.Minute,
		DelayAfter: 100,
		DelayStep:  time.Second,
		MaxDelay:   time.Second,
	}, store)

	handler := Slow(th)(okHandler())

	start := time.Now()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSlow_DelaysPastThreshold(t *testing.T) {
	store, _ := newTestStore(t)
	th := NewThrottle(ThrottleConfig{
		Scope:      "speed",
		Window:     time.Minute,
		DelayAfter: 0,
		DelayStep:  50 * time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
	}, store)

	handler := Slow(th)(okHandler())

	start := time.Now()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("1.2.3.4"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSlow_AbandonsOnClientCancellation(t *testing.T) {
	store, _ := newTestStore(t)
	th := NewThrottle(ThrottleConfig{
		Scope:      "speed",
		Window:     time.Minute,
		DelayAfter: 0,
		DelayStep:  time.Minute,
		MaxDelay:   time.Minute,
	}, store)

	called := false
	handler := Slow(th)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := requestFrom("1.2.3.4").WithContext(ctx)

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(httptest.NewRecorder(), req)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("parked request was not abandoned after cancellation")
	}
	assert.False(t, called, "handler must not run for an abandoned request")
}
