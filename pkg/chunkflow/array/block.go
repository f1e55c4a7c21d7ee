package array

import (
	"fmt"
	"math"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"golang.org/x/exp/constraints"
)

// Element is the set of voxel value types a Block can hold.
type Element interface {
	constraints.Integer | constraints.Float
}

// Block is a dense, row-major (last axis fastest) N-dimensional buffer
// positioned at Origin in global array coordinates.
type Block[T Element] struct {
	Shape  []int
	Origin []int
	Data   []T
}

// NewBlock allocates a zeroed block covering region.
func NewBlock[T Element](region grid.Region) *Block[T] {
	return &Block[T]{
		Shape:  region.Size(),
		Origin: region.Start(),
		Data:   make([]T, region.Volume()),
	}
}

// Region returns the global region the block covers.
func (b *Block[T]) Region() grid.Region {
	r := make(grid.Region, len(b.Shape))
	for i := range b.Shape {
		r[i] = grid.Range{Start: b.Origin[i], End: b.Origin[i] + b.Shape[i]}
	}
	return r
}

// Len returns the number of voxels.
func (b *Block[T]) Len() int {
	return len(b.Data)
}

// Offset maps block-local coordinates to a Data index.
func (b *Block[T]) Offset(local []int) int {
	off := 0
	for i, v := range local {
		off = off*b.Shape[i] + v
	}
	return off
}

// At returns the value at global coordinates p.
func (b *Block[T]) At(p []int) T {
	off := 0
	for i, v := range p {
		off = off*b.Shape[i] + (v - b.Origin[i])
	}
	return b.Data[off]
}

// Set stores v at global coordinates p.
func (b *Block[T]) Set(p []int, v T) {
	off := 0
	for i, c := range p {
		off = off*b.Shape[i] + (c - b.Origin[i])
	}
	b.Data[off] = v
}

// Clone returns a deep copy.
func (b *Block[T]) Clone() *Block[T] {
	return &Block[T]{
		Shape:  append([]int(nil), b.Shape...),
		Origin: append([]int(nil), b.Origin...),
		Data:   append([]T(nil), b.Data...),
	}
}

// Fill sets every voxel to v.
func (b *Block[T]) Fill(v T) {
	for i := range b.Data {
		b.Data[i] = v
	}
}

// Equal reports whether two blocks cover the same region with the same
// values.
func (b *Block[T]) Equal(other *Block[T]) bool {
	if len(b.Shape) != len(other.Shape) || len(b.Data) != len(other.Data) {
		return false
	}
	for i := range b.Shape {
		if b.Shape[i] != other.Shape[i] || b.Origin[i] != other.Origin[i] {
			return false
		}
	}
	for i := range b.Data {
		if b.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// CopyFrom copies the overlap of src into b. Both blocks use global
// coordinates, so the overlap is wherever their regions intersect.
func (b *Block[T]) CopyFrom(src *Block[T]) {
	overlap, ok := b.Region().Intersect(src.Region())
	if !ok {
		return
	}
	copyRegion(b, src, overlap)
}

// Sub returns a new block holding the part of b inside region.
func (b *Block[T]) Sub(region grid.Region) (*Block[T], error) {
	overlap, ok := b.Region().Intersect(region)
	if !ok || overlap.Volume() != region.Volume() {
		return nil, fmt.Errorf("region %v not contained in block region %v", region, b.Region())
	}
	out := NewBlock[T](region)
	copyRegion(out, b, region)
	return out, nil
}

// NonFinite returns the number of NaN or Inf values.
func (b *Block[T]) NonFinite() int {
	n := 0
	for _, v := range b.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			n++
		}
	}
	return n
}

// copyRegion copies region (global coordinates) from src into dst, one
// contiguous run along the last axis at a time.
func copyRegion[T Element](dst, src *Block[T], region grid.Region) {
	rank := len(region)
	if rank == 0 {
		return
	}
	last := rank - 1
	run := region[last].Len()

	p := region.Start()
	for {
		dOff := 0
		sOff := 0
		for i := 0; i < rank; i++ {
			dOff = dOff*dst.Shape[i] + (p[i] - dst.Origin[i])
			sOff = sOff*src.Shape[i] + (p[i] - src.Origin[i])
		}
		copy(dst.Data[dOff:dOff+run], src.Data[sOff:sOff+run])

		axis := last - 1
		for axis >= 0 {
			p[axis]++
			if p[axis] < region[axis].End {
				break
			}
			p[axis] = region[axis].Start
			axis--
		}
		if axis < 0 {
			return
		}
	}
}
