package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: how long requests/solves take
// - Traffic: request/solve throughput
// - Errors: rate of failures, by taxonomy code
// - Saturation: concurrent solve pipelines / dispatcher queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Solve pipeline metrics
	SolveDuration    metric.Float64Histogram
	SolvesTotal      metric.Int64Counter
	SolveErrorsTotal metric.Int64Counter
	SolvesActive     metric.Int64UpDownCounter

	// Dispatcher metrics
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("platesolver")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Remote solves regularly take minutes: the queue alone is ~10 minutes
	// deep at the poll ceiling.
	m.SolveDuration, err = meter.Float64Histogram(
		"solve_duration_seconds",
		metric.WithDescription("Plate solve duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 15, 30, 60, 120, 300, 600, 900),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SolvesTotal, err = meter.Int64Counter(
		"solves_total",
		metric.WithDescription("Total number of solve pipelines started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SolveErrorsTotal, err = meter.Int64Counter(
		"solve_errors_total",
		metric.WithDescription("Total number of failed solves, by taxonomy code"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SolvesActive, err = meter.Int64UpDownCounter(
		"solves_active",
		metric.WithDescription("Number of currently running solve pipelines (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSolveStarted records a new solve pipeline starting.
func (m *Metrics) RecordSolveStarted(ctx context.Context, source string) {
	attrs := metric.WithAttributes(sourceAttr(source))
	m.SolvesTotal.Add(ctx, 1, attrs)
	m.SolvesActive.Add(ctx, 1, attrs)
}

// RecordSolveCompleted records a solve reaching success or failure.
func (m *Metrics) RecordSolveCompleted(ctx context.Context, source string, success bool, errCode string, durationSeconds float64) {
	m.SolveDuration.Record(ctx, durationSeconds, metric.WithAttributes(sourceAttr(source), successAttr(success)))
	m.SolvesActive.Add(ctx, -1, metric.WithAttributes(sourceAttr(source)))

	if !success {
		m.SolveErrorsTotal.Add(ctx, 1, metric.WithAttributes(sourceAttr(source), codeAttr(errCode)))
	}
}

// RecordSolveCancelled records a solve being cancelled.
func (m *Metrics) RecordSolveCancelled(ctx context.Context, source string) {
	m.SolvesActive.Add(ctx, -1, metric.WithAttributes(sourceAttr(source)))
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
