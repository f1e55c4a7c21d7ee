package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records chunk and unit metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordChunk records one processed chunk of a traversal with its
	// duration and error status.
	RecordChunk(ctx context.Context, op string, duration time.Duration, err error)

	// RecordWriteAttempts records how many attempts a chunk write took.
	RecordWriteAttempts(ctx context.Context, dataset string, attempts int)

	// RecordUnit records a finished work unit of a stage.
	RecordUnit(ctx context.Context, stage string, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	chunksProcessed metric.Int64Counter
	chunkLatency    metric.Float64Histogram
	chunkErrors     metric.Int64Counter
	writeAttempts   metric.Int64Histogram
	unitsCompleted  metric.Int64Counter
	unitsFailed     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("chunkflow")

	chunksProcessed, err := meter.Int64Counter("chunkflow.chunk.processed",
		metric.WithDescription("Number of chunks processed"),
	)
	if err != nil {
		return nil, err
	}

	chunkLatency, err := meter.Float64Histogram("chunkflow.chunk.latency_ms",
		metric.WithDescription("Per-chunk processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	chunkErrors, err := meter.Int64Counter("chunkflow.chunk.errors",
		metric.WithDescription("Number of chunks that failed"),
	)
	if err != nil {
		return nil, err
	}

	writeAttempts, err := meter.Int64Histogram("chunkflow.chunk.write_attempts",
		metric.WithDescription("Attempts needed per chunk write"),
	)
	if err != nil {
		return nil, err
	}

	unitsCompleted, err := meter.Int64Counter("chunkflow.unit.completed",
		metric.WithDescription("Number of work units marked done"),
	)
	if err != nil {
		return nil, err
	}

	unitsFailed, err := meter.Int64Counter("chunkflow.unit.failed",
		metric.WithDescription("Number of work units that failed"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		chunksProcessed: chunksProcessed,
		chunkLatency:    chunkLatency,
		chunkErrors:     chunkErrors,
		writeAttempts:   writeAttempts,
		unitsCompleted:  unitsCompleted,
		unitsFailed:     unitsFailed,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordChunk records a processed chunk.
func (m *otelMetrics) RecordChunk(ctx context.Context, op string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op))

	m.chunksProcessed.Add(ctx, 1, attrs)
	m.chunkLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.chunkErrors.Add(ctx, 1, attrs)
	}
}

// RecordWriteAttempts records the attempts of one chunk write.
func (m *otelMetrics) RecordWriteAttempts(ctx context.Context, dataset string, attempts int) {
	m.writeAttempts.Record(ctx, int64(attempts),
		metric.WithAttributes(attribute.String("dataset", dataset)))
}

// RecordUnit records a finished work unit.
func (m *otelMetrics) RecordUnit(ctx context.Context, stage string, _ time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	if err != nil {
		m.unitsFailed.Add(ctx, 1, attrs)
		return
	}
	m.unitsCompleted.Add(ctx, 1, attrs)
}
