// Package observe provides observability primitives for scribefix:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and the
// HTTP middleware used by the metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from /metrics.
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
//
// All Record helpers accept a nil *Metrics and do nothing, so components can
// be constructed without instrumentation.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scribefix metrics.
const meterName = "github.com/MrWong99/scribefix"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks model call latency. Attribute: "type" (the
	// interaction type: initial, followup, repair, clarification).
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool latency. Attribute: "tool".
	ToolExecutionDuration metric.Float64Histogram

	// BlockDuration tracks end-to-end processing time of one block.
	BlockDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Attributes: "tool", "status"
	// (ok, error, unavailable, cached).
	ToolCalls metric.Int64Counter

	// Blocks counts processed blocks. Attribute: "status" (completed,
	// skipped, error).
	Blocks metric.Int64Counter

	// Corrections counts corrections by "outcome" (applied, conflicted).
	Corrections metric.Int64Counter

	// ParseOutcomes counts model responses by the parser "strategy" that
	// recovered them, or "failed".
	ParseOutcomes metric.Int64Counter

	// ProviderRequests counts model requests. Attributes: "provider", "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: "provider", "kind".
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// "name", "to".
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks file runs in progress.
	ActiveRuns metric.Int64UpDownCounter

	// --- Operator endpoints ---

	// HTTPRequestDuration tracks how long the metrics and health endpoints
	// take to answer. Attributes: "route", "code".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for model
// and tool calls, which take from milliseconds to over a minute.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("scribefix.llm.duration",
		metric.WithDescription("Latency of model calls by interaction type."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("scribefix.tool_execution.duration",
		metric.WithDescription("Latency of analysis tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BlockDuration, err = m.Float64Histogram("scribefix.block.duration",
		metric.WithDescription("Processing time of one transcript block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolCalls, err = m.Int64Counter("scribefix.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Blocks, err = m.Int64Counter("scribefix.blocks",
		metric.WithDescription("Total blocks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("scribefix.corrections",
		metric.WithDescription("Total corrections by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ParseOutcomes, err = m.Int64Counter("scribefix.parse.outcomes",
		metric.WithDescription("Model responses by the parse strategy that recovered them."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("scribefix.provider.requests",
		metric.WithDescription("Total model requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("scribefix.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("scribefix.circuit.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRuns, err = m.Int64UpDownCounter("scribefix.active_runs",
		metric.WithDescription("Number of file runs in progress."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("scribefix.http.request.duration",
		metric.WithDescription("Operator endpoint latency by route and status class."),
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
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments are bound to the Prometheus exporter. Panics if instrument
// creation fails.
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

// RecordLLMCall records the latency of one model call and, when err is
// non-nil, a provider error of kind "complete".
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, "complete")
	}
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("type", kind)))
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("status", status)))
}

// RecordToolCall records a tool invocation and its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("tool", tool)))
}

// RecordBlock records a block outcome. d is ignored for skipped blocks.
func (m *Metrics) RecordBlock(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Blocks.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	if status != "skipped" {
		m.BlockDuration.Record(ctx, d.Seconds())
	}
}

// RecordCorrections records applied and conflicted correction counts.
func (m *Metrics) RecordCorrections(ctx context.Context, applied, conflicted int) {
	if m == nil {
		return
	}
	if applied > 0 {
		m.Corrections.Add(ctx, int64(applied), metric.WithAttributes(Attr("outcome", "applied")))
	}
	if conflicted > 0 {
		m.Corrections.Add(ctx, int64(conflicted), metric.WithAttributes(Attr("outcome", "conflicted")))
	}
}

// RecordParse records which parse strategy recovered a model response. An
// empty strategy is recorded as "failed".
func (m *Metrics) RecordParse(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "failed"
	}
	m.ParseOutcomes.Add(ctx, 1, metric.WithAttributes(Attr("strategy", strategy)))
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("name", name), Attr("to", to)))
}

// TrackRun increments [Metrics.ActiveRuns] and returns a function that
// decrements it again.
func (m *Metrics) TrackRun(ctx context.Context) func() {
	if m == nil {
		return func() {}
	}
	m.ActiveRuns.Add(ctx, 1)
	return func() { m.ActiveRuns.Add(ctx, -1) }
}
