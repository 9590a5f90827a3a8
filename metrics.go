package effects

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics receives engine telemetry events.
//
// Contract:
// - Implementations must be safe for concurrent use.
// - Implementations must not panic and should return quickly.
type Metrics interface {
	// RecordOutcome records the terminal result of one retried execution:
	// attempt count, strategy kind, total duration, and the final error
	// (nil on success).
	RecordOutcome(ctx context.Context, operation string, strategy StrategyKind, attempts int, duration time.Duration, err error)

	// RecordRejection records an admission denial by a circuit breaker or a
	// missing handler registration.
	RecordRejection(ctx context.Context, handlerType, reason string)
}

// otelMetrics implements Metrics on an OpenTelemetry meter.
type otelMetrics struct {
	successCount  metric.Int64Counter
	failureCount  metric.Int64Counter
	rejectedCount metric.Int64Counter
	durationHist  metric.Float64Histogram
}

// NewMetrics creates a Metrics implementation backed by the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	successCount, err := meter.Int64Counter(
		"effects.execution.successes",
		metric.WithDescription("Terminal successful executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	failureCount, err := meter.Int64Counter(
		"effects.execution.failures",
		metric.WithDescription("Terminal failed executions after retries were exhausted"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	rejectedCount, err := meter.Int64Counter(
		"effects.execution.rejected",
		metric.WithDescription("Operations denied admission before execution"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"effects.execution.duration_ms",
		metric.WithDescription("Total execution duration including backoff waits"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		successCount:  successCount,
		failureCount:  failureCount,
		rejectedCount: rejectedCount,
		durationHist:  durationHist,
	}, nil
}

// NoopMetrics returns a Metrics implementation that records nothing.
func NoopMetrics() Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("jp-go-effects"))
	return m
}

// RecordOutcome implements Metrics.
func (m *otelMetrics) RecordOutcome(ctx context.Context, operation string, strategy StrategyKind, attempts int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("effects.operation", operation),
		attribute.String("effects.strategy", string(strategy)),
		attribute.Int("effects.attempts", attempts),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("effects.error_kind", string(KindOf(err))))
	}
	opt := metric.WithAttributes(attrs...)

	if err != nil {
		m.failureCount.Add(ctx, 1, opt)
	} else {
		m.successCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
}

// RecordRejection implements Metrics.
func (m *otelMetrics) RecordRejection(ctx context.Context, handlerType, reason string) {
	m.rejectedCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("effects.handler_type", handlerType),
		attribute.String("effects.reason", reason),
	))
}
