package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"apigate/internal/ratelimit"
)

// countingStore records calls and optionally fails.
type countingStore struct {
	increments int
	decrements int
	peeks      int
	err        error
}

func (s *countingStore) Increment(_ context.Context, _ string, window time.Duration) (ratelimit.Snapshot, error) {
	s.increments++
	return ratelimit.Snapshot{Count: s.increments, ResetAt: time.Now().Add(window)}, s.err
}

func (s *countingStore) Peek(context.Context, string) (ratelimit.Snapshot, bool, error) {
	s.peeks++
	return ratelimit.Snapshot{}, false, s.err
}

func (s *countingStore) Decrement(context.Context, string) error {
	s.decrements++
	return s.err
}

func (s *countingStore) Close() {}

// setMeterProvider installs a meter provider backed by an isolated
// prometheus registry and returns the registry for gathering.
func setMeterProvider(t *testing.T) *promclient.Registry {
	t.Helper()
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	require.NoError(t, err)

	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))
	t.Cleanup(func() { otel.SetMeterProvider(previous) })

	return registry
}

func findMetric(t *testing.T, registry *promclient.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestInstrumentedStore_DelegatesToInner(t *testing.T) {
	setMeterProvider(t)
	inner := &countingStore{}
	store, err := NewInstrumentedStore(inner)
	require.NoError(t, err)
	ctx := context.Background()

	snap, err := store.Increment(ctx, "global:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count)

	_, _, err = store.Peek(ctx, "global:1.2.3.4")
	require.NoError(t, err)
	require.NoError(t, store.Decrement(ctx, "global:1.2.3.4"))

	assert.Equal(t, 1, inner.increments)
	assert.Equal(t, 1, inner.peeks)
	assert.Equal(t, 1, inner.decrements)
}

func TestInstrumentedStore_RecordsDuration(t *testing.T) {
	registry := setMeterProvider(t)
	store, err := NewInstrumentedStore(&countingStore{})
	require.NoError(t, err)

	_, err = store.Increment(context.Background(), "auth:1.2.3.4", time.Minute)
	require.NoError(t, err)

	mf := findMetric(t, registry, "ratelimit_store_operation_duration_seconds")
	require.NotNil(t, mf, "duration histogram should be exported")
	require.NotEmpty(t, mf.GetMetric())

	histogram := mf.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), histogram.GetSampleCount())

	// Scope, not client identity, is the metric label.
	labels := map[string]string{}
	for _, l := range mf.GetMetric()[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, "auth", labels["scope"])
	assert.Equal(t, "Increment", labels["operation"])
	assert.NotContains(t, labels, "key")
}

func TestInstrumentedStore_RecordsErrors(t *testing.T) {
	registry := setMeterProvider(t)
	store, err := NewInstrumentedStore(&countingStore{err: errors.New("store down")})
	require.NoError(t, err)

	_, err = store.Increment(context.Background(), "global:1.2.3.4", time.Minute)
	require.Error(t, err, "errors pass through untouched")

	mf := findMetric(t, registry, "ratelimit_store_operation_errors_total")
	require.NotNil(t, mf, "error counter should be exported")
	require.NotEmpty(t, mf.GetMetric())
	assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
}

func TestScopeOf(t *testing.T) {
	assert.Equal(t, "auth", scopeOf("auth:1.2.3.4"))
	assert.Equal(t, "user", scopeOf("user:alice"))
	assert.Equal(t, "unknown", scopeOf("nocolon"))
	assert.Equal(t, "unknown", scopeOf(":leading"))
}
