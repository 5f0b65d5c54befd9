// Package observe provides application-wide observability primitives for
// livehost: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all livehost metrics.
const meterName = "github.com/lumenstream/livehost"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DecisionDuration tracks end-to-end decision latency per comment.
	DecisionDuration metric.Float64Histogram

	// --- Counters ---

	// Decisions counts brain decisions. Use with attributes:
	//   attribute.String("action", ...), attribute.String("reason", ...)
	Decisions metric.Int64Counter

	// Speaks counts committed speak requests. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("phase", ...)
	Speaks metric.Int64Counter

	// Comments counts consumed classified comments. Use with attribute:
	//   attribute.String("intent", ...)
	Comments metric.Int64Counter

	// PhaseTransitions counts sale-flow transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("trigger", ...)
	PhaseTransitions metric.Int64Counter

	// --- Error counters ---

	// MalformedMessages counts bus messages that failed to parse.
	MalformedMessages metric.Int64Counter

	// BusReconnects counts broker connection re-establishments.
	BusReconnects metric.Int64Counter

	// ArchiveErrors counts failed archive writes.
	ArchiveErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of comments parked in the pending queue.
	QueueDepth metric.Int64UpDownCounter

	// ViewerCount tracks the last observed audience size.
	ViewerCount metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for the sub-second decision hot path.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecisionDuration, err = m.Float64Histogram("livehost.decision.duration",
		metric.WithDescription("End-to-end decision latency per classified comment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Decisions, err = m.Int64Counter("livehost.decisions",
		metric.WithDescription("Total brain decisions by action and reason."),
	); err != nil {
		return nil, err
	}
	if met.Speaks, err = m.Int64Counter("livehost.speaks",
		metric.WithDescription("Total committed speak requests by intent and sale phase."),
	); err != nil {
		return nil, err
	}
	if met.Comments, err = m.Int64Counter("livehost.comments",
		metric.WithDescription("Total consumed classified comments by intent."),
	); err != nil {
		return nil, err
	}
	if met.PhaseTransitions, err = m.Int64Counter("livehost.phase.transitions",
		metric.WithDescription("Total sale-flow transitions by from, to, and trigger."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.MalformedMessages, err = m.Int64Counter("livehost.bus.malformed",
		metric.WithDescription("Total bus messages rejected as malformed."),
	); err != nil {
		return nil, err
	}
	if met.BusReconnects, err = m.Int64Counter("livehost.bus.reconnects",
		metric.WithDescription("Total broker connection re-establishments."),
	); err != nil {
		return nil, err
	}
	if met.ArchiveErrors, err = m.Int64Counter("livehost.archive.errors",
		metric.WithDescription("Total failed archive writes."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.QueueDepth, err = m.Int64UpDownCounter("livehost.queue.depth",
		metric.WithDescription("Comments currently parked in the pending queue."),
	); err != nil {
		return nil, err
	}
	if met.ViewerCount, err = m.Int64Gauge("livehost.viewers",
		metric.WithDescription("Last observed audience size."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livehost.http.request.duration",
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

// RecordDecision records one brain decision with its latency.
func (m *Metrics) RecordDecision(ctx context.Context, action, reason string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("reason", reason),
	)
	m.Decisions.Add(ctx, 1, attrs)
	m.DecisionDuration.Record(ctx, seconds, attrs)
}

// RecordSpeak records one committed speak request.
func (m *Metrics) RecordSpeak(ctx context.Context, intent, phase string) {
	m.Speaks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("phase", phase),
		),
	)
}

// RecordComment records one consumed classified comment.
func (m *Metrics) RecordComment(ctx context.Context, intent string) {
	m.Comments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("intent", intent)),
	)
}

// RecordTransition records one sale-flow transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, trigger string) {
	m.PhaseTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("trigger", trigger),
		),
	)
}
