package chunkflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/pool"
)

// ScratchSuffix is appended to the output path to name the scratch
// dataset RunOverlap creates when none is given.
const ScratchSuffix = "_scratch"

// OverlapReport describes a finished overlap filter run.
type OverlapReport struct {
	// Iterations is the number of iterations that ran.
	Iterations int
	// Changed is the number of voxels each iteration changed.
	Changed []int64
	// Stopped is true when the run ended early on an unchanged iteration.
	Stopped bool
}

// RunOverlap applies f to every chunk of out, reading each chunk's region
// of the input grown by halo voxels per side (clamped to the array
// bounds) and writing only the chunk interior. With iterations > 1 each
// iteration reads the complete output of the previous one: intermediate
// results alternate between out and a scratch dataset so that no
// iteration reads a dataset it is writing, and the last iteration always
// writes out.
//
// A chunk whose input cannot be read fails with *ChunkReadError and
// nothing is written for it. A failed iteration stops the run with an
// *IterationError.
func RunOverlap[T array.Element](ctx context.Context, in, out *array.Dataset, halo int, f BlockTransform[T], iterations int, opts ...Option) (OverlapReport, error) {
	var report OverlapReport
	if iterations < 1 {
		return report, ErrInvalidIterations
	}
	if halo < 0 {
		return report, fmt.Errorf("halo must be non-negative, got %d", halo)
	}
	if err := checkOutput(in, out); err != nil {
		return report, err
	}

	cfg := buildRunConfig(opts)
	logger := observability.EnrichLogger(cfg.logger, cfg.runID, "overlap")

	scratch := cfg.scratch
	if iterations > 1 && scratch == nil {
		var err error
		scratch, err = array.CreateLike(out.Store(), out.Path()+ScratchSuffix, out)
		if err != nil {
			return report, fmt.Errorf("create scratch dataset: %w", err)
		}
	}
	if scratch != nil {
		if err := checkOutput(out, scratch); err != nil {
			return report, fmt.Errorf("scratch: %w", err)
		}
	}

	src := in
	for k := 1; k <= iterations; k++ {
		dst := out
		if (iterations-k)%2 == 1 {
			dst = scratch
		}

		changed, err := overlapPass(ctx, &cfg, src, dst, halo, f)
		if err != nil {
			return report, &IterationError{Iteration: k, Err: err}
		}
		report.Iterations = k
		report.Changed = append(report.Changed, changed)
		observability.LogIteration(logger, k, changed)

		if cfg.stopWhenUnchanged && changed == 0 && k < iterations {
			report.Stopped = true
			if dst != out {
				if _, err := overlapPass(ctx, &cfg, dst, out, 0, Identity[T]); err != nil {
					return report, &IterationError{Iteration: k, Err: err}
				}
			}
			break
		}
		src = dst
	}
	return report, nil
}

// overlapPass runs one iteration over every chunk of dst and returns the
// number of interior voxels f changed.
func overlapPass[T array.Element](ctx context.Context, cfg *runConfig, src, dst *array.Dataset, halo int, f BlockTransform[T]) (int64, error) {
	shape := src.Shape()
	chunks := dst.Grid().Chunks()

	results := traverse(ctx, cfg, "overlap", chunks, func(ctx context.Context, c grid.Chunk) (int64, error) {
		in, err := chunkio.ReadRegion[T](ctx, src, c.Expand(halo, shape))
		if err != nil {
			return 0, &ChunkReadError{Index: c.Index, Err: err}
		}
		res, err := f(in)
		if err != nil {
			return 0, fmt.Errorf("filter chunk %s: %w", c.Index, err)
		}
		if !slices.Equal(res.Shape, in.Shape) || !slices.Equal(res.Origin, in.Origin) {
			return 0, fmt.Errorf("filter chunk %s: result covers %v, input %v", c.Index, res.Region(), in.Region())
		}

		interior, err := res.Sub(c.Region)
		if err != nil {
			return 0, err
		}
		before, err := in.Sub(c.Region)
		if err != nil {
			return 0, err
		}
		var changed int64
		for i := range interior.Data {
			if interior.Data[i] != before.Data[i] {
				changed++
			}
		}

		if err := chunkio.WriteChunk(ctx, dst, c.Index, interior, cfg.retry, cfg.chunkOptions()...); err != nil {
			return 0, err
		}
		return changed, nil
	})

	if err := pool.Join(results); err != nil {
		return 0, err
	}
	var total int64
	for _, r := range results {
		total += r.Value
	}
	return total, nil
}

// checkOutput verifies out can receive the results of a traversal of in.
func checkOutput(in, out *array.Dataset) error {
	if !out.Writable() {
		return fmt.Errorf("%w: %s", ErrNotWritable, out)
	}
	if !slices.Equal(in.Shape(), out.Shape()) {
		return fmt.Errorf("%w: %s is %v, %s is %v", ErrShapeMismatch, in, in.Shape(), out, out.Shape())
	}
	if in.Store() == out.Store() && in.Path() == out.Path() {
		return fmt.Errorf("%w: %s", ErrInPlace, out)
	}
	return nil
}
