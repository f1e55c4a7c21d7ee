package chunkflow

import (
	"context"
	"testing"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/retry"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
	"github.com/stretchr/testify/require"
)

// quietOpts keeps test output clean and chunk writes fast.
func quietOpts(extra ...Option) []Option {
	return append([]Option{
		WithLogger(nil),
		WithRetryPolicy(retry.NoRetry),
		WithConcurrency(4),
	}, extra...)
}

// newDataset creates an empty raw N5 dataset in s.
func newDataset(t *testing.T, s store.Store, path string, dtype array.Dtype, shape, chunks []int) *array.Dataset {
	t.Helper()
	ds, err := array.Create(s, path, array.FormatN5, array.Meta{
		Shape:      shape,
		ChunkShape: chunks,
		Dtype:      dtype,
	})
	require.NoError(t, err)
	return ds
}

// fill writes every chunk of ds with values from fn.
func fill[T array.Element](t *testing.T, ds *array.Dataset, fn func(p []int) T) {
	t.Helper()
	ctx := context.Background()
	for _, c := range ds.Grid().Chunks() {
		b := array.NewBlock[T](c.Region)
		i := 0
		forEachVoxel(b, func(p []int, _ T) {
			b.Data[i] = fn(p)
			i++
		})
		require.NoError(t, chunkio.WriteChunk(ctx, ds, c.Index, b, retry.NoRetry))
	}
}

// readAll reads the whole dataset into one block.
func readAll[T array.Element](t *testing.T, ds *array.Dataset) *array.Block[T] {
	t.Helper()
	region := make(grid.Region, len(ds.Shape()))
	for i, n := range ds.Shape() {
		region[i] = grid.Range{Start: 0, End: n}
	}
	b, err := chunkio.ReadRegion[T](context.Background(), ds, region)
	require.NoError(t, err)
	return b
}

// countNonzero counts voxels different from zero.
func countNonzero[T array.Element](b *array.Block[T]) int {
	n := 0
	for _, v := range b.Data {
		if v != 0 {
			n++
		}
	}
	return n
}
