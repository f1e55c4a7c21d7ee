// Package grid partitions N-dimensional array shapes into chunk regions.
//
// Everything in this package is pure: no I/O, no shared state. A Grid is
// derived from an array shape and a chunk shape by ceiling division per
// axis, and enumerates chunks in row-major order (first axis slowest).
package grid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidShape is the sentinel wrapped by every InvalidShapeError.
var ErrInvalidShape = errors.New("invalid shape")

// InvalidShapeError reports malformed grid parameters.
// It is always a caller bug and never worth retrying.
type InvalidShapeError struct {
	Shape      []int
	ChunkShape []int
	Reason     string
}

// Error implements the error interface.
func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid shape %v with chunk shape %v: %s", e.Shape, e.ChunkShape, e.Reason)
}

// Unwrap returns ErrInvalidShape for errors.Is support.
func (e *InvalidShapeError) Unwrap() error {
	return ErrInvalidShape
}

// Index identifies a chunk's position in the grid.
type Index []int

// String renders the index as "i.j.k".
func (ix Index) String() string {
	parts := make([]string, len(ix))
	for i, v := range ix {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// Equal reports whether two indices are identical.
func (ix Index) Equal(other Index) bool {
	if len(ix) != len(other) {
		return false
	}
	for i := range ix {
		if ix[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (ix Index) Clone() Index {
	out := make(Index, len(ix))
	copy(out, ix)
	return out
}

// Range is a half-open interval [Start, End) along one axis.
type Range struct {
	Start int
	End   int
}

// Len returns End - Start.
func (r Range) Len() int {
	return r.End - r.Start
}

// Region is one Range per axis, in array coordinates.
type Region []Range

// Size returns the extent along every axis.
func (r Region) Size() []int {
	out := make([]int, len(r))
	for i, rg := range r {
		out[i] = rg.Len()
	}
	return out
}

// Start returns the lower corner of the region.
func (r Region) Start() []int {
	out := make([]int, len(r))
	for i, rg := range r {
		out[i] = rg.Start
	}
	return out
}

// Volume returns the number of voxels in the region.
func (r Region) Volume() int {
	v := 1
	for _, rg := range r {
		v *= rg.Len()
	}
	return v
}

// Contains reports whether the point lies inside the region.
func (r Region) Contains(p []int) bool {
	if len(p) != len(r) {
		return false
	}
	for i, rg := range r {
		if p[i] < rg.Start || p[i] >= rg.End {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of two regions and whether it is non-empty.
func (r Region) Intersect(other Region) (Region, bool) {
	if len(r) != len(other) {
		return nil, false
	}
	out := make(Region, len(r))
	for i := range r {
		out[i] = Range{Start: max(r[i].Start, other[i].Start), End: min(r[i].End, other[i].End)}
		if out[i].End <= out[i].Start {
			return nil, false
		}
	}
	return out, true
}

// Chunk describes one cell of the grid. It is computed from Index and
// never stored independently of it.
type Chunk struct {
	Index  Index
	Region Region
}

// Size returns the chunk extent per axis. Boundary chunks may be smaller
// than the grid's chunk shape.
func (c Chunk) Size() []int {
	return c.Region.Size()
}

// Offset returns the chunk's global origin.
func (c Chunk) Offset() []int {
	return c.Region.Start()
}

// Expand grows the chunk region by halo voxels on every side, clamped to
// the array bounds described by shape.
func (c Chunk) Expand(halo int, shape []int) Region {
	out := make(Region, len(c.Region))
	for i, rg := range c.Region {
		out[i] = Range{Start: max(rg.Start-halo, 0), End: min(rg.End+halo, shape[i])}
	}
	return out
}

// Grid is the partition of Shape into chunks of ChunkShape.
type Grid struct {
	Shape      []int
	ChunkShape []int
	// Counts is the number of chunks along each axis.
	Counts []int
}

// New validates the parameters and builds a Grid.
func New(shape, chunkShape []int) (Grid, error) {
	if len(shape) == 0 {
		return Grid{}, &InvalidShapeError{Shape: shape, ChunkShape: chunkShape, Reason: "rank must be at least 1"}
	}
	if len(shape) != len(chunkShape) {
		return Grid{}, &InvalidShapeError{
			Shape:      shape,
			ChunkShape: chunkShape,
			Reason:     fmt.Sprintf("rank mismatch: %d != %d", len(shape), len(chunkShape)),
		}
	}
	counts := make([]int, len(shape))
	for i := range shape {
		if shape[i] <= 0 || chunkShape[i] <= 0 {
			return Grid{}, &InvalidShapeError{
				Shape:      shape,
				ChunkShape: chunkShape,
				Reason:     fmt.Sprintf("axis %d: sizes must be positive", i),
			}
		}
		counts[i] = (shape[i] + chunkShape[i] - 1) / chunkShape[i]
	}
	return Grid{
		Shape:      append([]int(nil), shape...),
		ChunkShape: append([]int(nil), chunkShape...),
		Counts:     counts,
	}, nil
}

// Len returns the total number of chunks.
func (g Grid) Len() int {
	n := 1
	for _, c := range g.Counts {
		n *= c
	}
	return n
}

// Rank returns the number of axes.
func (g Grid) Rank() int {
	return len(g.Shape)
}

// ChunkAt returns the chunk for an index, or false if the index lies
// outside the grid.
func (g Grid) ChunkAt(ix Index) (Chunk, bool) {
	if len(ix) != len(g.Counts) {
		return Chunk{}, false
	}
	region := make(Region, len(ix))
	for i, v := range ix {
		if v < 0 || v >= g.Counts[i] {
			return Chunk{}, false
		}
		start := v * g.ChunkShape[i]
		region[i] = Range{Start: start, End: min(start+g.ChunkShape[i], g.Shape[i])}
	}
	return Chunk{Index: ix.Clone(), Region: region}, true
}

// Chunks enumerates every chunk in row-major order.
func (g Grid) Chunks() []Chunk {
	out := make([]Chunk, 0, g.Len())
	ix := make(Index, len(g.Counts))
	for {
		c, _ := g.ChunkAt(ix)
		out = append(out, c)

		// Odometer increment, last axis fastest.
		axis := len(ix) - 1
		for axis >= 0 {
			ix[axis]++
			if ix[axis] < g.Counts[axis] {
				break
			}
			ix[axis] = 0
			axis--
		}
		if axis < 0 {
			return out
		}
	}
}

// Overlapping returns the chunks whose regions intersect r.
func (g Grid) Overlapping(r Region) []Chunk {
	if len(r) != g.Rank() {
		return nil
	}
	lo := make([]int, len(r))
	hi := make([]int, len(r))
	for i, rg := range r {
		if rg.End <= rg.Start {
			return nil
		}
		lo[i] = max(rg.Start, 0) / g.ChunkShape[i]
		hi[i] = min((rg.End-1)/g.ChunkShape[i], g.Counts[i]-1)
		if hi[i] < lo[i] {
			return nil
		}
	}

	var out []Chunk
	ix := append(Index(nil), lo...)
	for {
		c, _ := g.ChunkAt(ix)
		out = append(out, c)

		axis := len(ix) - 1
		for axis >= 0 {
			ix[axis]++
			if ix[axis] <= hi[axis] {
				break
			}
			ix[axis] = lo[axis]
			axis--
		}
		if axis < 0 {
			return out
		}
	}
}

// Partition computes the ordered chunk cover of shape.
// Consumers must not rely on the order; dispatch may reorder.
func Partition(shape, chunkShape []int) ([]Chunk, error) {
	g, err := New(shape, chunkShape)
	if err != nil {
		return nil, err
	}
	return g.Chunks(), nil
}

// Count returns the number of chunks Partition would produce.
func Count(shape, chunkShape []int) (int, error) {
	g, err := New(shape, chunkShape)
	if err != nil {
		return 0, err
	}
	return g.Len(), nil
}

// Volume returns the product of the entries of shape.
func Volume(shape []int) int {
	v := 1
	for _, s := range shape {
		v *= s
	}
	return v
}
