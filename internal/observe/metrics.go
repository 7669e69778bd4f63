// Package observe provides application-wide observability primitives for
// crewdex: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all crewdex metrics.
const meterName = "github.com/crewdex/crewdex"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// Resolutions counts resolution decisions. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("outcome", ...), attribute.String("path", ...)
	// where path is "alias" for exact-index hits and "scored" for fuzzy ones.
	Resolutions metric.Int64Counter

	// ExtractRequests counts mention-extraction LLM calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ExtractRequests metric.Int64Counter

	// ReviewItems counts mentions deferred to the human review queue. Use
	// with attribute: attribute.String("reason", ...)
	ReviewItems metric.Int64Counter

	// --- Histograms ---

	// ResolutionConfidence tracks the confidence of accepted resolutions.
	ResolutionConfidence metric.Float64Histogram

	// ScorerDuration tracks the fuzzy-scoring pass latency in milliseconds.
	ScorerDuration metric.Float64Histogram

	// --- Gauges ---

	// StoreEntities tracks the number of canonical entities by kind.
	StoreEntities metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// confidenceBuckets defines histogram bucket boundaries over [0,1] scores.
var confidenceBuckets = []float64{
	0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 0.99, 1,
}

// scorerBuckets defines histogram bucket boundaries (in milliseconds) for
// the linear scoring pass.
var scorerBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Resolutions, err = m.Int64Counter("crewdex.resolutions",
		metric.WithDescription("Total resolution decisions by kind, outcome, and path."),
	); err != nil {
		return nil, err
	}
	if met.ExtractRequests, err = m.Int64Counter("crewdex.extract.requests",
		metric.WithDescription("Total mention-extraction requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ReviewItems, err = m.Int64Counter("crewdex.review.items",
		metric.WithDescription("Total review-queue items by reason."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ResolutionConfidence, err = m.Float64Histogram("crewdex.resolution.confidence",
		metric.WithDescription("Confidence of accepted resolutions."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScorerDuration, err = m.Float64Histogram("crewdex.scorer.duration",
		metric.WithDescription("Latency of the fuzzy scoring pass."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(scorerBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.StoreEntities, err = m.Int64UpDownCounter("crewdex.store.entities",
		metric.WithDescription("Number of canonical entities by kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("crewdex.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordResolution is a convenience method that records one resolution
// decision with the standard attribute set. path is "alias" for exact-index
// hits and "scored" for fuzzy ones. Confidence is recorded only for matched
// outcomes.
func (m *Metrics) RecordResolution(ctx context.Context, kind, outcome, path string, confidence float64) {
	m.Resolutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
			attribute.String("path", path),
		),
	)
	if outcome == "matched" {
		m.ResolutionConfidence.Record(ctx, confidence)
	}
}

// RecordScorerDuration records one fuzzy-scoring pass latency in
// milliseconds.
func (m *Metrics) RecordScorerDuration(ctx context.Context, ms float64) {
	m.ScorerDuration.Record(ctx, ms)
}

// RecordEntityCreated increments the per-kind entity gauge.
func (m *Metrics) RecordEntityCreated(ctx context.Context, kind string) {
	m.StoreEntities.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordExtractRequest records one mention-extraction request counter
// increment with the standard attribute set.
func (m *Metrics) RecordExtractRequest(ctx context.Context, provider, status string) {
	m.ExtractRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordReviewItem records one review-queue item counter increment.
func (m *Metrics) RecordReviewItem(ctx context.Context, reason string) {
	m.ReviewItems.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
