// Package observe provides observability primitives for telling:
// OpenTelemetry metrics and the Prometheus exporter bridge behind them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all telling metrics.
const meterName = "github.com/vogelwacht/telling"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// MatchDuration tracks one matcher lookup (exact plus fuzzy).
	MatchDuration metric.Float64Histogram

	// RebuildDuration tracks one full index rebuild, master load through
	// cache write.
	RebuildDuration metric.Float64Histogram

	// --- Counters ---

	// Interpretations counts interpretation cycles. Use with attribute:
	//   attribute.String("outcome", ...)
	Interpretations metric.Int64Counter

	// Rebuilds counts index rebuilds. Use with attribute:
	//   attribute.String("status", ...)
	Rebuilds metric.Int64Counter

	// IndexLoads counts index load attempts by source tier. Use with
	// attributes:
	//   attribute.String("tier", ...), attribute.String("status", ...)
	IndexLoads metric.Int64Counter

	// Uploads counts uploaded observations. Use with attribute:
	//   attribute.String("status", ...)
	Uploads metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("name", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// PendingObservations tracks the local buffer backlog.
	PendingObservations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Lookups
// sit in the low milliseconds, rebuilds in the low seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.MatchDuration, err = m.Float64Histogram("telling.match.duration",
		metric.WithDescription("Latency of one matcher lookup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RebuildDuration, err = m.Float64Histogram("telling.rebuild.duration",
		metric.WithDescription("Latency of one full index rebuild."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Interpretations, err = m.Int64Counter("telling.interpretations",
		metric.WithDescription("Total interpretation cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Rebuilds, err = m.Int64Counter("telling.rebuilds",
		metric.WithDescription("Total index rebuilds by status."),
	); err != nil {
		return nil, err
	}
	if met.IndexLoads, err = m.Int64Counter("telling.index.loads",
		metric.WithDescription("Total index load attempts by source tier and status."),
	); err != nil {
		return nil, err
	}
	if met.Uploads, err = m.Int64Counter("telling.uploads",
		metric.WithDescription("Total uploaded observations by status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("telling.breaker.transitions",
		metric.WithDescription("Total circuit breaker state transitions."),
	); err != nil {
		return nil, err
	}

	if met.PendingObservations, err = m.Int64UpDownCounter("telling.observations.pending",
		metric.WithDescription("Observations buffered locally and not yet uploaded."),
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

// RecordInterpretation records one interpretation cycle with its outcome.
func (m *Metrics) RecordInterpretation(ctx context.Context, outcome string) {
	m.Interpretations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordRebuild records one index rebuild with its duration and status.
func (m *Metrics) RecordRebuild(ctx context.Context, seconds float64, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Rebuilds.Add(ctx, 1, attrs)
	m.RebuildDuration.Record(ctx, seconds)
}

// RecordIndexLoad records one index load attempt for a tier.
func (m *Metrics) RecordIndexLoad(ctx context.Context, tier, status string) {
	m.IndexLoads.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("status", status),
		),
	)
}

// RecordUpload records n observations pushed (or failed to push) to the
// counting server.
func (m *Metrics) RecordUpload(ctx context.Context, n int64, status string) {
	m.Uploads.Add(ctx, n,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordBreakerTransition records one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("to", to),
		),
	)
}
