package chunkflow

import (
	"context"
	"slices"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"golang.org/x/exp/constraints"
)

// BoundingBox is the inclusive extent of a label in global coordinates.
type BoundingBox struct {
	Min []int
	Max []int
}

// Region returns the half-open region the box covers.
func (b BoundingBox) Region() grid.Region {
	r := make(grid.Region, len(b.Min))
	for i := range b.Min {
		r[i] = grid.Range{Start: b.Min[i], End: b.Max[i] + 1}
	}
	return r
}

// Union returns the smallest box containing both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	out := BoundingBox{Min: make([]int, len(b.Min)), Max: make([]int, len(b.Max))}
	for i := range b.Min {
		out.Min[i] = min(b.Min[i], o.Min[i])
		out.Max[i] = max(b.Max[i], o.Max[i])
	}
	return out
}

// extend grows the box in place to include p.
func (b *BoundingBox) extend(p []int) {
	for i, v := range p {
		b.Min[i] = min(b.Min[i], v)
		b.Max[i] = max(b.Max[i], v)
	}
}

// LabelBoxes maps each label to its bounding box.
type LabelBoxes map[int64]BoundingBox

// Lookup returns the box of label and whether the label occurs.
func (lb LabelBoxes) Lookup(label int64) (BoundingBox, bool) {
	b, ok := lb[label]
	return b, ok
}

// Labels returns the labels in ascending order.
func (lb LabelBoxes) Labels() []int64 {
	labels := make([]int64, 0, len(lb))
	for l := range lb {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels
}

// MergeLabelBoxes unions the boxes of labels present in both maps.
// Neither input is modified.
func MergeLabelBoxes(a, b LabelBoxes) LabelBoxes {
	out := make(LabelBoxes, len(a)+len(b))
	for l, box := range a {
		out[l] = box
	}
	for l, box := range b {
		if prev, ok := out[l]; ok {
			out[l] = prev.Union(box)
		} else {
			out[l] = box
		}
	}
	return out
}

// BlockLabelBoxes returns the bounding boxes of every label in b except
// background.
func BlockLabelBoxes[T constraints.Integer](b *array.Block[T], background int64) LabelBoxes {
	boxes := make(LabelBoxes)
	forEachVoxel(b, func(p []int, v T) {
		label := int64(v)
		if label == background {
			return
		}
		box, ok := boxes[label]
		if !ok {
			boxes[label] = BoundingBox{Min: slices.Clone(p), Max: slices.Clone(p)}
			return
		}
		box.extend(p)
	})
	return boxes
}

// ComputeLabelBoxes returns the bounding box of every label in in, except
// background.
func ComputeLabelBoxes[T constraints.Integer](ctx context.Context, in *array.Dataset, background int64, opts ...Option) (LabelBoxes, error) {
	perChunk := func(_ grid.Chunk, b *array.Block[T]) (LabelBoxes, error) {
		return BlockLabelBoxes(b, background), nil
	}
	return Reduce(ctx, in, perChunk, MergeLabelBoxes, LabelBoxes{}, opts...)
}

// centroidSum accumulates voxel coordinates of one label.
type centroidSum struct {
	sum   []float64
	count int64
}

type centroidSums map[int64]centroidSum

func mergeCentroidSums(a, b centroidSums) centroidSums {
	out := make(centroidSums, len(a)+len(b))
	for l, s := range a {
		out[l] = s
	}
	for l, s := range b {
		prev, ok := out[l]
		if !ok {
			out[l] = s
			continue
		}
		sum := make([]float64, len(s.sum))
		for i := range sum {
			sum[i] = prev.sum[i] + s.sum[i]
		}
		out[l] = centroidSum{sum: sum, count: prev.count + s.count}
	}
	return out
}

// CentersOfMass returns the mean voxel coordinate of every label in boxes.
// Only chunks overlapping at least one box are read, and each label only
// counts voxels inside its own box.
func CentersOfMass[T constraints.Integer](ctx context.Context, in *array.Dataset, boxes LabelBoxes, opts ...Option) (map[int64][]float64, error) {
	cfg := buildRunConfig(opts)

	regions := make(map[int64]grid.Region, len(boxes))
	for l, box := range boxes {
		regions[l] = box.Region()
	}

	var chunks []grid.Chunk
	for _, c := range in.Grid().Chunks() {
		for _, r := range regions {
			if _, ok := c.Region.Intersect(r); ok {
				chunks = append(chunks, c)
				break
			}
		}
	}

	perChunk := func(_ grid.Chunk, b *array.Block[T]) (centroidSums, error) {
		sums := make(centroidSums)
		forEachVoxel(b, func(p []int, v T) {
			label := int64(v)
			r, ok := regions[label]
			if !ok || !r.Contains(p) {
				return
			}
			s, ok := sums[label]
			if !ok {
				s = centroidSum{sum: make([]float64, len(p))}
			}
			for i, x := range p {
				s.sum[i] += float64(x)
			}
			s.count++
			sums[label] = s
		})
		return sums, nil
	}

	sums, err := reduceChunks(ctx, &cfg, "centers", in, chunks, perChunk, mergeCentroidSums, centroidSums{})
	if err != nil {
		return nil, err
	}
	centers := make(map[int64][]float64, len(sums))
	for l, s := range sums {
		c := make([]float64, len(s.sum))
		for i := range c {
			c[i] = s.sum[i] / float64(s.count)
		}
		centers[l] = c
	}
	return centers, nil
}

// forEachVoxel calls fn with the global coordinates and value of every
// voxel of b in row-major order. p is reused between calls.
func forEachVoxel[T array.Element](b *array.Block[T], fn func(p []int, v T)) {
	if len(b.Data) == 0 {
		return
	}
	p := slices.Clone(b.Origin)
	for _, v := range b.Data {
		fn(p, v)
		for d := len(p) - 1; d >= 0; d-- {
			p[d]++
			if p[d] < b.Origin[d]+b.Shape[d] {
				break
			}
			p[d] = b.Origin[d]
		}
	}
}
