// Package observe provides observability primitives for the wake-word
// service: OpenTelemetry metrics, tracing helpers, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/wakeword"

// Metrics holds all OpenTelemetry metric instruments for the service.
type Metrics struct {
	// --- Inference latency ---

	// VADDuration tracks the latency of one voice-activity inference call.
	VADDuration metric.Float64Histogram

	// KWSDuration tracks the latency of one keyword-window evaluation.
	KWSDuration metric.Float64Histogram

	// --- Counters ---

	// Chunks counts fixed-size chunks extracted from the ring buffer.
	Chunks metric.Int64Counter

	// SpeechTransitions counts applied speech boundaries. Use with attribute:
	//   attribute.String("edge", "start"|"end")
	SpeechTransitions metric.Int64Counter

	// WakeEvents counts accepted keyword detections. Use with attribute:
	//   attribute.String("keyword", ...)
	WakeEvents metric.Int64Counter

	// KWSInvocations counts keyword model calls. Use with attribute:
	//   attribute.String("result", "accepted"|"rejected"|"error")
	KWSInvocations metric.Int64Counter

	// WindowEvictions counts chunks dropped from a full keyword window.
	WindowEvictions metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// BufferedSamples reports the number of samples waiting in the ring buffer.
	BufferedSamples metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Energy VAD
// calls land in the lowest buckets; remote keyword backends in the upper ones.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.VADDuration, err = m.Float64Histogram("wakeword.vad.duration",
		metric.WithDescription("Latency of one voice activity inference call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.KWSDuration, err = m.Float64Histogram("wakeword.kws.duration",
		metric.WithDescription("Latency of one keyword window evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Chunks, err = m.Int64Counter("wakeword.chunks",
		metric.WithDescription("Total audio chunks extracted from the ring buffer."),
	); err != nil {
		return nil, err
	}
	if met.SpeechTransitions, err = m.Int64Counter("wakeword.speech.transitions",
		metric.WithDescription("Total speech start and end transitions by edge."),
	); err != nil {
		return nil, err
	}
	if met.WakeEvents, err = m.Int64Counter("wakeword.wake.events",
		metric.WithDescription("Total accepted keyword detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.KWSInvocations, err = m.Int64Counter("wakeword.kws.invocations",
		metric.WithDescription("Total keyword model invocations by result."),
	); err != nil {
		return nil, err
	}
	if met.WindowEvictions, err = m.Int64Counter("wakeword.window.evictions",
		metric.WithDescription("Total chunks evicted from a full keyword window."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("wakeword.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.BufferedSamples, err = m.Int64Gauge("wakeword.ring_buffer.samples",
		metric.WithDescription("Samples currently buffered ahead of chunk extraction."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("wakeword.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSpeechTransition increments the speech transition counter for the
// given edge ("start" or "end").
func (m *Metrics) RecordSpeechTransition(ctx context.Context, edge string) {
	m.SpeechTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("edge", edge)))
}

// RecordWake increments the wake event counter for keyword.
func (m *Metrics) RecordWake(ctx context.Context, keyword string) {
	m.WakeEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordKWSInvocation records one keyword model call and its outcome.
func (m *Metrics) RecordKWSInvocation(ctx context.Context, result string, seconds float64) {
	m.KWSInvocations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.KWSDuration.Record(ctx, seconds)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
