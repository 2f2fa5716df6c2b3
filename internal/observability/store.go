package observability

import (
	"context"
	"strings"
	"time"

	"apigate/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStore wraps a ratelimit.CounterStore with OpenTelemetry
// tracing and metrics instrumentation. Every counter operation records a
// span, a latency sample, and an error count, attributed to the policy
// scope the bucket key belongs to.
type InstrumentedStore struct {
	inner    ratelimit.CounterStore
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a counter store wrapper that records trace
// spans, operation latency histograms, and error counters for every store
// method call.
func NewInstrumentedStore(inner ratelimit.CounterStore) (*InstrumentedStore, error) {
	tracer := otel.Tracer("apigate/ratelimit")
	meter := otel.Meter("apigate/ratelimit")

	duration, err := meter.Float64Histogram(
		"ratelimit.store.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"ratelimit.store.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.store."+operation,
		trace.WithAttributes(
			attribute.String("store.operation", operation),
			attribute.String("ratelimit.scope", scopeOf(key)),
		),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation, key string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("scope", scopeOf(key)),
	)

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Increment(ctx context.Context, key string, window time.Duration) (ratelimit.Snapshot, error) {
	ctx, span := s.startSpan(ctx, "Increment", key)
	start := time.Now()
	snap, err := s.inner.Increment(ctx, key, window)
	s.record(ctx, span, "Increment", key, start, err)
	return snap, err
}

func (s *InstrumentedStore) Peek(ctx context.Context, key string) (ratelimit.Snapshot, bool, error) {
	ctx, span := s.startSpan(ctx, "Peek", key)
	start := time.Now()
	snap, ok, err := s.inner.Peek(ctx, key)
	s.record(ctx, span, "Peek", key, start, err)
	return snap, ok, err
}

func (s *InstrumentedStore) Decrement(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "Decrement", key)
	start := time.Now()
	err := s.inner.Decrement(ctx, key)
	s.record(ctx, span, "Decrement", key, start, err)
	return err
}

func (s *InstrumentedStore) Close() {
	s.inner.Close()
}

// scopeOf extracts the policy scope from a bucket key ("auth:1.2.3.4" ->
// "auth"). Client identities stay out of metric labels to keep cardinality
// bounded.
func scopeOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "unknown"
}
