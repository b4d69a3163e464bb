// Package observe holds the metrics, tracing and log helpers of the
// extraction pipeline and the small HTTP server that exposes them.
//
// Instruments are created through the OpenTelemetry Metrics API. After
// [InitProvider] they are exported to a private Prometheus registry that
// [NewMetricsServer] serves at /metrics. [DefaultMetrics] binds to the global
// meter provider; tests use [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all doppelganger metrics.
const meterName = "github.com/MrWong99/doppelganger"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency per clip.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks language-model call latency. Use with attribute:
	//   attribute.String("template", ...)
	LLMDuration metric.Float64Histogram

	// StageDuration tracks how long each pipeline stage takes per segment.
	// Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// RunDuration tracks end-to-end pipeline runs.
	RunDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Segments counts processed segments. Use with attribute:
	//   attribute.String("status", "ok"|"skipped"|"failed")
	Segments metric.Int64Counter

	// FramesDescribed counts frame descriptions produced.
	FramesDescribed metric.Int64Counter

	// CacheLookups counts model-call cache lookups. Use with attributes:
	//   attribute.String("template", ...), attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of pipeline runs in progress.
	ActiveRuns metric.Int64UpDownCounter

	// HTTPRequestDuration times requests to the metrics server, labelled by
	// "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model calls that take from a fraction of a second to a few minutes.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("doppelganger.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("doppelganger.llm.duration",
		metric.WithDescription("Latency of language-model calls by prompt template."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("doppelganger.stage.duration",
		metric.WithDescription("Duration of a pipeline stage for one segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RunDuration, err = m.Float64Histogram("doppelganger.run.duration",
		metric.WithDescription("Duration of a complete pipeline run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("doppelganger.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("doppelganger.segments",
		metric.WithDescription("Total segments processed by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesDescribed, err = m.Int64Counter("doppelganger.frames.described",
		metric.WithDescription("Total frame descriptions produced."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("doppelganger.cache.lookups",
		metric.WithDescription("Model-call cache lookups by template and result."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("doppelganger.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRuns, err = m.Int64UpDownCounter("doppelganger.active_runs",
		metric.WithDescription("Number of pipeline runs in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("doppelganger.http.request.duration",
		metric.WithDescription("Metrics server request latency by route and status."),
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSegment records the outcome of one segment.
func (m *Metrics) RecordSegment(ctx context.Context, status string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCacheLookup records a model-call cache hit or miss for template.
func (m *Metrics) RecordCacheLookup(ctx context.Context, template string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("template", template),
			attribute.String("result", result),
		),
	)
}
