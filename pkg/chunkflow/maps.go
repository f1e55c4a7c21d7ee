package chunkflow

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/pool"
)

// Mask voxel values.
const (
	MaskOff uint8 = 0
	MaskOn  uint8 = math.MaxUint8
)

// ChunkMapFunc computes an output chunk from the input chunk with the same
// index. The result must cover the chunk's region.
type ChunkMapFunc[T, U array.Element] func(c grid.Chunk, b *array.Block[T]) (*array.Block[U], error)

// MapChunks applies fn to every chunk of in and writes each result to the
// chunk of out with the same index. in and out must share shape and chunk
// shape. Every chunk is attempted; the returned error joins all failures.
func MapChunks[T, U array.Element](ctx context.Context, in, out *array.Dataset, fn ChunkMapFunc[T, U], opts ...Option) error {
	if err := checkOutput(in, out); err != nil {
		return err
	}
	if !slices.Equal(in.ChunkShape(), out.ChunkShape()) {
		return fmt.Errorf("%w: chunk shape %v, output chunk shape %v", ErrShapeMismatch, in.ChunkShape(), out.ChunkShape())
	}
	cfg := buildRunConfig(opts)

	results := traverse(ctx, &cfg, "map", in.Grid().Chunks(), func(ctx context.Context, c grid.Chunk) (struct{}, error) {
		b, err := chunkio.ReadChunk[T](ctx, in, c.Index)
		if err != nil {
			return struct{}{}, &ChunkReadError{Index: c.Index, Err: err}
		}
		res, err := fn(c, b)
		if err != nil {
			return struct{}{}, fmt.Errorf("map chunk %s: %w", c.Index, err)
		}
		return struct{}{}, chunkio.WriteChunk(ctx, out, c.Index, res, cfg.retry, cfg.chunkOptions()...)
	})
	return pool.Join(results)
}

// mapVoxels builds a chunk map from a per-voxel function.
func mapVoxels[T, U array.Element](fn func(T) U) ChunkMapFunc[T, U] {
	return func(_ grid.Chunk, b *array.Block[T]) (*array.Block[U], error) {
		out := array.NewBlock[U](b.Region())
		for i, v := range b.Data {
			out.Data[i] = fn(v)
		}
		return out, nil
	}
}

// ThresholdMask writes MaskOn where a voxel of in is at least threshold
// and MaskOff elsewhere. out must have dtype uint8.
func ThresholdMask[T array.Element](ctx context.Context, in, out *array.Dataset, threshold float64, opts ...Option) error {
	if err := requireDtype(out, array.Uint8); err != nil {
		return err
	}
	return MapChunks(ctx, in, out, mapVoxels(func(v T) uint8 {
		if float64(v) < threshold {
			return MaskOff
		}
		return MaskOn
	}), opts...)
}

// LowIntensityCutoff returns median - floor(median/amp): voxels below it
// count as low-intensity padding.
func LowIntensityCutoff(median float64, amp int) (float64, error) {
	if amp <= 0 {
		return 0, fmt.Errorf("amp must be positive, got %d", amp)
	}
	return median - math.Floor(median/float64(amp)), nil
}

// PaddingMask writes MaskOff for low-intensity voxels of in (below
// LowIntensityCutoff) and MaskOn elsewhere. out must have dtype uint8.
func PaddingMask[T array.Element](ctx context.Context, in, out *array.Dataset, median float64, amp int, opts ...Option) error {
	if err := requireDtype(out, array.Uint8); err != nil {
		return err
	}
	cutoff, err := LowIntensityCutoff(median, amp)
	if err != nil {
		return err
	}
	return ThresholdMask[T](ctx, in, out, cutoff, opts...)
}

// PadLowIntensity copies in to out, replacing low-intensity voxels (below
// LowIntensityCutoff) with the median.
func PadLowIntensity[T array.Element](ctx context.Context, in, out *array.Dataset, median float64, amp int, opts ...Option) error {
	cutoff, err := LowIntensityCutoff(median, amp)
	if err != nil {
		return err
	}
	fill := T(median)
	return MapChunks(ctx, in, out, mapVoxels(func(v T) T {
		if float64(v) < cutoff {
			return fill
		}
		return v
	}), opts...)
}

func requireDtype(ds *array.Dataset, want array.Dtype) error {
	got := ds.Dtype()
	if got.BasicType != want.BasicType || got.ByteSize != want.ByteSize {
		return fmt.Errorf("%s has dtype %s, want %s", ds, got, want)
	}
	return nil
}
