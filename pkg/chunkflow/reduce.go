package chunkflow

import (
	"context"
	"fmt"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
)

// PartialFunc computes one chunk's partial result.
type PartialFunc[T array.Element, P any] func(c grid.Chunk, b *array.Block[T]) (P, error)

// MergeFunc combines two partial results. It must be associative and
// commutative, and the identity passed to Reduce must be neutral for it.
type MergeFunc[P any] func(a, b P) P

// Reduce computes perChunk for every chunk of in and merges the partials
// into one result. The result does not depend on chunk shape or on the
// order chunks finish.
//
// A missing chunk aborts the reduction unless WithSkipMissing is given,
// in which case it contributes identity and is logged. Any other chunk
// failure aborts.
func Reduce[T array.Element, P any](ctx context.Context, in *array.Dataset, perChunk PartialFunc[T, P], merge MergeFunc[P], identity P, opts ...Option) (P, error) {
	cfg := buildRunConfig(opts)
	return reduceChunks(ctx, &cfg, "reduce", in, in.Grid().Chunks(), perChunk, merge, identity)
}

// reduceChunks is Reduce restricted to the given chunks.
func reduceChunks[T array.Element, P any](ctx context.Context, cfg *runConfig, op string, in *array.Dataset, chunks []grid.Chunk, perChunk PartialFunc[T, P], merge MergeFunc[P], identity P) (P, error) {
	logger := observability.EnrichLogger(cfg.logger, cfg.runID, op)

	type partial struct {
		value   P
		skipped bool
	}
	results := traverse(ctx, cfg, op, chunks, func(ctx context.Context, c grid.Chunk) (partial, error) {
		b, err := chunkio.ReadChunk[T](ctx, in, c.Index)
		if err != nil {
			if cfg.skipMissing && chunkio.IsMissing(err) {
				return partial{skipped: true}, nil
			}
			return partial{}, err
		}
		p, err := perChunk(c, b)
		if err != nil {
			return partial{}, fmt.Errorf("chunk %s: %w", c.Index, err)
		}
		return partial{value: p}, nil
	})

	acc := identity
	for i, r := range results {
		if r.Err != nil {
			return identity, fmt.Errorf("%s %s: %w", op, in, r.Err)
		}
		if r.Value.skipped {
			observability.LogChunkSkipped(logger, op, chunks[i].Index.String(), "missing")
			continue
		}
		acc = merge(acc, r.Value.value)
	}
	return acc, nil
}
