package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"apigate/internal/ratelimit"
)

// LimiterMetrics exports the admission-control domain meters: admission
// decisions counted by scope and outcome, and a histogram of the delays the
// speed throttle computes. It plugs into the limiter as a
// ratelimit.MetricsRecorder.
type LimiterMetrics struct {
	decisions metric.Int64Counter
	delay     metric.Float64Histogram
}

var _ ratelimit.MetricsRecorder = (*LimiterMetrics)(nil)

// NewLimiterMetrics creates the limiter's domain instruments on the global
// meter provider. Call after the meter provider is installed by Setup.
func NewLimiterMetrics() (*LimiterMetrics, error) {
	meter := otel.Meter("apigate/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Admission decisions by policy scope and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	delay, err := meter.Float64Histogram(
		"ratelimit.throttle.delay",
		metric.WithDescription("Backpressure delay computed by the speed throttle in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &LimiterMetrics{decisions: decisions, delay: delay}, nil
}

// RecordDecision counts one admit or deny under the given policy scope.
func (lm *LimiterMetrics) RecordDecision(ctx context.Context, scope string, admitted bool) {
	outcome := "denied"
	if admitted {
		outcome = "admitted"
	}
	lm.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

// RecordDelay samples the delay computed for one request, zero delays
// included.
func (lm *LimiterMetrics) RecordDelay(ctx context.Context, scope string, delay time.Duration) {
	lm.delay.Record(ctx, delay.Seconds(),
		metric.WithAttributes(attribute.String("scope", scope)))
}

// MetricsServer exposes everything the Prometheus exporter collected, the
// limiter domain meters included, on its own port away from the public API.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer builds the scrape endpoint. Without a configured
// Prometheus exporter the server still runs but serves no metrics route.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()

	if provider != nil && provider.promExporter != nil {
		mux.Handle(path, promhttp.Handler())
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Start serves until Shutdown; it returns http.ErrServerClosed on a graceful
// stop.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown stops the scrape endpoint.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
