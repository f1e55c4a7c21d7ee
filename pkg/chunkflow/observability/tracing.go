package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("chunkflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartTraversalSpan starts a span covering one pass over a chunk grid.
	StartTraversalSpan(ctx context.Context, op, runID string) (context.Context, trace.Span)

	// StartStageSpan starts a span for a pipeline stage.
	StartStageSpan(ctx context.Context, stage, runID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartTraversalSpan(ctx context.Context, op, runID string) (context.Context, trace.Span) {
	return StartTraversalSpan(ctx, op, runID)
}

func (m *otelSpanManager) StartStageSpan(ctx context.Context, stage, runID string) (context.Context, trace.Span) {
	return StartStageSpan(ctx, stage, runID)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartTraversalSpan starts a "chunkflow.traversal" span.
// Uses the global OTel tracer.
func StartTraversalSpan(ctx context.Context, op, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "chunkflow.traversal",
		trace.WithAttributes(
			attribute.String("traversal.op", op),
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStageSpan starts a "chunkflow.stage.<name>" span.
// Uses the global OTel tracer.
func StartStageSpan(ctx context.Context, stage, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "chunkflow.stage."+stage,
		trace.WithAttributes(
			attribute.String("stage.name", stage),
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
