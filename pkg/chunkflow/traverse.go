package chunkflow

import (
	"context"
	"time"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/pool"
)

// traverse runs fn for every chunk on the worker pool and returns the
// results in chunk order. It owns the traversal span, the start/complete
// log lines and per-chunk metrics; failures are left to the caller.
func traverse[R any](ctx context.Context, cfg *runConfig, op string, chunks []grid.Chunk, fn func(ctx context.Context, c grid.Chunk) (R, error)) []pool.Result[R] {
	ctx, span := cfg.spans.StartTraversalSpan(ctx, op, cfg.runID)
	logger := observability.EnrichLogger(cfg.logger, cfg.runID, op)
	observability.LogTraversalStart(logger, op, len(chunks), pool.Concurrency(cfg.concurrency))
	done := observability.TimedOperation()

	results := pool.Map(ctx, chunks, cfg.concurrency, func(ctx context.Context, c grid.Chunk) (R, error) {
		start := time.Now()
		r, err := fn(ctx, c)
		cfg.metrics.RecordChunk(ctx, op, time.Since(start), err)
		return r, err
	})

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			observability.LogChunkError(logger, op, chunks[i].Index.String(), r.Err)
		}
	}
	observability.LogTraversalComplete(logger, op, done(), len(chunks), failed)
	cfg.spans.EndSpanWithError(span, pool.FirstError(results))
	return results
}
