// Package observe provides readalong's observability primitives:
// OpenTelemetry metrics and traces, trace-enriched structured logging, and
// HTTP middleware for the local metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should build their own [Metrics] with
// [NewMetrics] and a private MeterProvider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every readalong instrument.
const meterName = "github.com/MrWong99/readalong"

// Extraction modes.
const (
	ModeClient = "client"
	ModeServer = "server"
)

// Metrics holds the application's instruments. The OTel types handle their
// own synchronisation.
type Metrics struct {
	// ExtractionDuration is the phoneme extraction latency, by "mode"
	// (client or server) and "status".
	ExtractionDuration metric.Float64Histogram

	// ModelLoadDuration is the on-device model load time.
	ModelLoadDuration metric.Float64Histogram

	// Extractions counts extractions by "mode" and "status".
	Extractions metric.Int64Counter

	// AudioSeconds sums the analysed audio length by "mode".
	AudioSeconds metric.Float64Counter

	// TimeSaved sums the estimated server time avoided by local extraction.
	TimeSaved metric.Float64Counter

	// TransportErrors counts errors surfaced to the user by "category".
	TransportErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker changes by "name" and "to".
	BreakerTransitions metric.Int64Counter

	// ActiveTurns is the number of practice turns awaiting their end.
	ActiveTurns metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request time on the metrics endpoint, by
	// "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for inference
// and backend round-trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ExtractionDuration, err = m.Float64Histogram("readalong.extraction.duration",
		metric.WithDescription("Latency of phoneme extraction by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("readalong.model_load.duration",
		metric.WithDescription("Time to load the on-device phoneme model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Extractions, err = m.Int64Counter("readalong.extractions",
		metric.WithDescription("Phoneme extractions by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioSeconds, err = m.Float64Counter("readalong.audio.seconds",
		metric.WithDescription("Seconds of recorded audio analysed, by mode."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.TimeSaved, err = m.Float64Counter("readalong.time_saved",
		metric.WithDescription("Estimated server time avoided by local extraction."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("readalong.errors",
		metric.WithDescription("Errors surfaced to the user by category."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("readalong.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveTurns, err = m.Int64UpDownCounter("readalong.active_turns",
		metric.WithDescription("Practice turns awaiting their end."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("readalong.http.request.duration",
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

// DefaultMetrics returns a process-wide [Metrics] built on the global
// MeterProvider at first use. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordExtraction records one extraction: its latency, outcome and the
// audio length it covered.
func (m *Metrics) RecordExtraction(ctx context.Context, mode string, seconds, audioSeconds float64, ok bool) {
	attrs := metric.WithAttributes(Attr("mode", mode), Attr("status", status(ok)))
	m.ExtractionDuration.Record(ctx, seconds, attrs)
	m.Extractions.Add(ctx, 1, attrs)
	if audioSeconds > 0 {
		m.AudioSeconds.Add(ctx, audioSeconds, metric.WithAttributes(Attr("mode", mode)))
	}
}

// RecordModelLoad records a completed model load.
func (m *Metrics) RecordModelLoad(ctx context.Context, seconds float64) {
	m.ModelLoadDuration.Record(ctx, seconds)
}

// RecordTimeSaved adds to the time-saved total. Non-positive values are
// ignored.
func (m *Metrics) RecordTimeSaved(ctx context.Context, seconds float64) {
	if seconds > 0 {
		m.TimeSaved.Add(ctx, seconds)
	}
}

// RecordError counts one user-facing error.
func (m *Metrics) RecordError(ctx context.Context, category string) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(Attr("category", category)))
}

// RecordBreakerTransition counts one breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("name", name), Attr("to", to)))
}
