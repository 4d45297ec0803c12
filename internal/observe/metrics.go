// Package observe provides application-wide observability primitives for
// livescribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup]
// bridges them to a Prometheus registry served by
// [Telemetry.MetricsHandler]. [DefaultMetrics] records through whatever
// global provider is installed; tests should use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livescribe metrics.
const meterName = "github.com/MrWong99/livescribe"

// Flush outcome labels used with [Metrics.RecordFlush].
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// The instruments are safe for concurrent use.
type Metrics struct {
	// TranscriptionDuration tracks backend transcription latency. Use with
	// attribute.String("backend", ...).
	TranscriptionDuration metric.Float64Histogram

	// FlushAttempts counts flush attempts. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	FlushAttempts metric.Int64Counter

	// ProviderErrors counts backend errors. Use with attribute:
	//   attribute.String("backend", ...)
	ProviderErrors metric.Int64Counter

	// ChunksReceived counts upstream audio chunks.
	ChunksReceived metric.Int64Counter

	// ChunkBytes counts upstream audio bytes.
	ChunkBytes metric.Int64Counter

	// FlushBytes records the buffer size submitted by each flush attempt.
	FlushBytes metric.Int64Histogram

	// ActiveConnections tracks the number of open transport connections.
	ActiveConnections metric.Int64UpDownCounter

	// DroppedResults counts results discarded because the client had already
	// disconnected.
	DroppedResults metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("backend", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for batch
// transcription calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// sizeBuckets defines histogram bucket boundaries (in bytes) for flushed
// buffers, from a single short chunk up to the default buffer bound.
var sizeBuckets = []float64{
	1 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20, 16 << 20, 25 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("livescribe.transcription.duration",
		metric.WithDescription("Latency of backend transcription calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FlushBytes, err = m.Int64Histogram("livescribe.flush.bytes",
		metric.WithDescription("Size of the accumulated buffer submitted per flush attempt."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FlushAttempts, err = m.Int64Counter("livescribe.flush.attempts",
		metric.WithDescription("Total flush attempts by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("livescribe.provider.errors",
		metric.WithDescription("Total transcription backend errors by backend."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("livescribe.chunks.received",
		metric.WithDescription("Total upstream audio chunks received."),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Counter("livescribe.chunks.bytes",
		metric.WithDescription("Total upstream audio bytes received."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DroppedResults, err = m.Int64Counter("livescribe.results.dropped",
		metric.WithDescription("Results discarded because the connection had closed."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("livescribe.backend.circuit_transitions",
		metric.WithDescription("Circuit breaker transitions by backend and new state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConnections, err = m.Int64UpDownCounter("livescribe.active_connections",
		metric.WithDescription("Number of open transport connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("livescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFlush records one completed flush attempt: its outcome, latency, and
// submitted buffer size. Failed attempts also increment ProviderErrors.
func (m *Metrics) RecordFlush(ctx context.Context, backend, status string, seconds float64, size int) {
	be := metric.WithAttributes(attribute.String("backend", backend))
	m.FlushAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
	m.TranscriptionDuration.Record(ctx, seconds, be)
	m.FlushBytes.Record(ctx, int64(size))
	if status != StatusOK {
		m.ProviderErrors.Add(ctx, 1, be)
	}
}

// RecordChunk records one upstream chunk of n bytes.
func (m *Metrics) RecordChunk(ctx context.Context, n int) {
	m.ChunksReceived.Add(ctx, 1)
	m.ChunkBytes.Add(ctx, int64(n))
}

// RecordBreakerTransition records a backend's circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("state", state),
	))
}
