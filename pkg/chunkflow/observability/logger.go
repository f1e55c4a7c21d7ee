// Package observability provides structured logging, metrics, and tracing
// for chunk traversals and pipeline stages.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every Log helper accepts a nil logger.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id and stage fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "histogram")
//	enriched.Info("doing work") // includes run_id, stage
func EnrichLogger(logger *slog.Logger, runID, stage string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("stage", stage),
	)
}

// LogTraversalStart logs the start of a chunk traversal.
func LogTraversalStart(logger *slog.Logger, op string, chunks, concurrency int) {
	if logger == nil {
		return
	}
	logger.Info("chunk traversal starting",
		slog.String("op", op),
		slog.Int("chunks", chunks),
		slog.Int("concurrency", concurrency),
	)
}

// LogTraversalComplete logs the end of a chunk traversal.
func LogTraversalComplete(logger *slog.Logger, op string, durationMs float64, chunks, failed int) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	if failed > 0 {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "chunk traversal completed",
		slog.String("op", op),
		slog.Float64("duration_ms", durationMs),
		slog.Int("chunks", chunks),
		slog.Int("failed", failed),
	)
}

// LogChunkError logs a chunk that could not be processed.
func LogChunkError(logger *slog.Logger, op, chunk string, err error) {
	if logger == nil {
		return
	}
	logger.Error("chunk failed",
		slog.String("op", op),
		slog.String("chunk", chunk),
		slog.String("error", err.Error()),
	)
}

// LogChunkSkipped logs a chunk left out of a traversal.
func LogChunkSkipped(logger *slog.Logger, op, chunk, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("chunk skipped",
		slog.String("op", op),
		slog.String("chunk", chunk),
		slog.String("reason", reason),
	)
}

// LogRetry logs a failed chunk write attempt that will be retried.
func LogRetry(logger *slog.Logger, chunk string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("chunk write failed, retrying",
		slog.String("chunk", chunk),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogIteration logs the end of one overlap filter iteration.
func LogIteration(logger *slog.Logger, iteration int, changed int64) {
	if logger == nil {
		return
	}
	logger.Debug("iteration completed",
		slog.Int("iteration", iteration),
		slog.Int64("changed_voxels", changed),
	)
}

// LogStageStart logs the start of a pipeline stage.
func LogStageStart(logger *slog.Logger, stage string, pending, done, blocked int) {
	if logger == nil {
		return
	}
	logger.Info("stage starting",
		slog.String("stage", stage),
		slog.Int("pending", pending),
		slog.Int("already_done", done),
		slog.Int("blocked", blocked),
	)
}

// LogStageComplete logs the end of a pipeline stage.
func LogStageComplete(logger *slog.Logger, stage string, durationMs float64, completed, failed int) {
	if logger == nil {
		return
	}
	logger.Info("stage completed",
		slog.String("stage", stage),
		slog.Float64("duration_ms", durationMs),
		slog.Int("completed", completed),
		slog.Int("failed", failed),
	)
}

// LogUnitDone logs a unit that finished and was marked done.
func LogUnitDone(logger *slog.Logger, stage, unit string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("unit done",
		slog.String("stage", stage),
		slog.String("unit", unit),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogUnitError logs a failed unit. The unit stays pending.
func LogUnitError(logger *slog.Logger, stage, unit string, err error) {
	if logger == nil {
		return
	}
	logger.Error("unit failed",
		slog.String("stage", stage),
		slog.String("unit", unit),
		slog.String("error", err.Error()),
	)
}

// LogUnitBlocked logs a unit whose prerequisite marker is missing.
func LogUnitBlocked(logger *slog.Logger, stage, unit, prereq string) {
	if logger == nil {
		return
	}
	logger.Warn("unit blocked",
		slog.String("stage", stage),
		slog.String("unit", unit),
		slog.String("missing_prerequisite", prereq),
	)
}

// LogMarkerError logs a checkpoint marker operation failure.
func LogMarkerError(logger *slog.Logger, stage, unit, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint marker failed",
		slog.String("stage", stage),
		slog.String("unit", unit),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewLogger returns a JSON or text logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
