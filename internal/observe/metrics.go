// Package observe provides the observability primitives shared by the HTTP
// API, the MCP server and the document store: OpenTelemetry metrics and
// tracing, trace-correlated logging, and HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus bridge set up by [InitProvider]. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/gitapractice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// EvaluateDuration tracks how long a pronunciation evaluation takes,
	// normalisation and alignment included.
	EvaluateDuration metric.Float64Histogram

	// EvaluateScore records the distribution of evaluation scores (0-100).
	EvaluateScore metric.Float64Histogram

	// Evaluations counts evaluations. Attributes: detail (spans|ops).
	Evaluations metric.Int64Counter

	// StoreRequests counts document store calls. Attributes:
	//   backend, collection, op, status
	StoreRequests metric.Int64Counter

	// StoreErrors counts failed document store calls. Attributes:
	//   backend, collection, op
	StoreErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	//   name, from, to
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, path, status
	HTTPRequestDuration metric.Float64Histogram

	// ChatbotReplies counts chatbot answers by matched topic.
	ChatbotReplies metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Attributes: tool, status
	ToolCalls metric.Int64Counter
}

// latencyBuckets are histogram bucket boundaries in seconds. Evaluations of
// a single verse run in microseconds; store round trips in milliseconds.
var latencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

var scoreBuckets = []float64{
	10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 95, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EvaluateDuration, err = m.Float64Histogram("gitapractice.evaluate.duration",
		metric.WithDescription("Latency of pronunciation evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvaluateScore, err = m.Float64Histogram("gitapractice.evaluate.score",
		metric.WithDescription("Distribution of pronunciation scores."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("gitapractice.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Evaluations, err = m.Int64Counter("gitapractice.evaluations",
		metric.WithDescription("Total pronunciation evaluations by detail level."),
	); err != nil {
		return nil, err
	}
	if met.StoreRequests, err = m.Int64Counter("gitapractice.store.requests",
		metric.WithDescription("Total document store calls by backend, collection, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("gitapractice.store.errors",
		metric.WithDescription("Total failed document store calls by backend, collection, and operation."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("gitapractice.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	if met.ChatbotReplies, err = m.Int64Counter("gitapractice.chatbot.replies",
		metric.WithDescription("Chatbot replies by matched topic."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("gitapractice.tool.calls",
		metric.WithDescription("MCP tool invocations by tool and status."),
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

// RecordEvaluation records one evaluation: its latency, its score and the
// detail level requested.
func (m *Metrics) RecordEvaluation(ctx context.Context, seconds, score float64, detail string) {
	m.EvaluateDuration.Record(ctx, seconds)
	m.EvaluateScore.Record(ctx, score)
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("detail", detail)))
}

// RecordStoreRequest records a document store call and, when status is not
// "ok", the matching error counter.
func (m *Metrics) RecordStoreRequest(ctx context.Context, backend, collection, op, status string) {
	m.StoreRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("collection", collection),
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.StoreErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("collection", collection),
				attribute.String("op", op),
			),
		)
	}
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordChatbotReply records one chatbot answer. Use topic "fallback" when no
// topic matched.
func (m *Metrics) RecordChatbotReply(ctx context.Context, topic string) {
	m.ChatbotReplies.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordToolCall records one MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
