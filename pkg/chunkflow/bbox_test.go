package chunkflow

import (
	"context"
	"testing"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cubeLabels has label 5 on [3,6]^3 and label 9 on [50,57]^3 of a 60^3
// volume stored in 20^3 chunks, so label 9 spans a chunk corner.
func cubeLabels(p []int) uint8 {
	in := func(lo, hi int) bool {
		for _, v := range p {
			if v < lo || v > hi {
				return false
			}
		}
		return true
	}
	switch {
	case in(3, 6):
		return 5
	case in(50, 57):
		return 9
	}
	return 0
}

func TestComputeLabelBoxes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ds := newDataset(t, s, "labels", array.Uint8, []int{60, 60, 60}, []int{20, 20, 20})
	fill(t, ds, cubeLabels)

	boxes, err := ComputeLabelBoxes[uint8](ctx, ds, 0, quietOpts()...)
	require.NoError(t, err)

	assert.Equal(t, []int64{5, 9}, boxes.Labels())
	box, ok := boxes.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, BoundingBox{Min: []int{3, 3, 3}, Max: []int{6, 6, 6}}, box)
	box, ok = boxes.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, BoundingBox{Min: []int{50, 50, 50}, Max: []int{57, 57, 57}}, box)

	_, ok = boxes.Lookup(0)
	assert.False(t, ok, "background has no box")
}

func TestCentersOfMass(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ds := newDataset(t, s, "labels", array.Uint8, []int{60, 60, 60}, []int{20, 20, 20})
	fill(t, ds, cubeLabels)

	boxes, err := ComputeLabelBoxes[uint8](ctx, ds, 0, quietOpts()...)
	require.NoError(t, err)

	// Chunks away from both boxes are never read.
	require.NoError(t, ds.DeleteChunk(grid.Index{1, 1, 1}))

	centers, err := CentersOfMass[uint8](ctx, ds, boxes, quietOpts()...)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4.5, 4.5, 4.5}, centers[5], 1e-9)
	assert.InDeltaSlice(t, []float64{53.5, 53.5, 53.5}, centers[9], 1e-9)
}

func TestCentersOfMass_OnlyCountsVoxelsInsideTheBox(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ds := newDataset(t, s, "line", array.Uint8, []int{1, 10}, []int{1, 5})
	fill(t, ds, func(p []int) uint8 {
		if p[1] == 1 || p[1] == 2 || p[1] == 8 {
			return 3
		}
		return 0
	})

	boxes := LabelBoxes{3: {Min: []int{0, 0}, Max: []int{0, 4}}}
	centers, err := CentersOfMass[uint8](ctx, ds, boxes, quietOpts()...)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1.5}, centers[3], 1e-9)
}

func TestMergeLabelBoxes(t *testing.T) {
	a := LabelBoxes{1: {Min: []int{0, 0}, Max: []int{2, 2}}}
	b := LabelBoxes{
		1: {Min: []int{1, 5}, Max: []int{1, 7}},
		2: {Min: []int{4, 4}, Max: []int{4, 4}},
	}

	merged := MergeLabelBoxes(a, b)
	assert.Equal(t, BoundingBox{Min: []int{0, 0}, Max: []int{2, 7}}, merged[1])
	assert.Equal(t, b[2], merged[2])
	assert.Equal(t, BoundingBox{Min: []int{0, 0}, Max: []int{2, 2}}, a[1])
	assert.Equal(t, a, MergeLabelBoxes(a, LabelBoxes{}))
}

func TestBlockLabelBoxes_Background(t *testing.T) {
	b := array.NewBlock[int16](grid.Region{{Start: 10, End: 12}, {Start: 0, End: 3}})
	copy(b.Data, []int16{-1, -1, 4, -1, 4, -1})

	boxes := BlockLabelBoxes(b, -1)
	assert.Equal(t, []int64{4}, boxes.Labels())
	assert.Equal(t, BoundingBox{Min: []int{10, 1}, Max: []int{11, 2}}, boxes[4])
	assert.Equal(t, grid.Region{{Start: 10, End: 12}, {Start: 1, End: 3}}, boxes[4].Region())
}
