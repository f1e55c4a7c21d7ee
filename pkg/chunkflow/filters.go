package chunkflow

import (
	"fmt"
	"sort"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
)

// BlockTransform computes a new block from an input block covering the
// same region. The input includes the halo; only the interior of the
// result is kept. Implementations must not modify the input.
type BlockTransform[T array.Element] func(b *array.Block[T]) (*array.Block[T], error)

// Filter names.
const (
	// FilterGrow dilates labels: zero voxels take the maximum of their face
	// neighbours.
	FilterGrow = "grow"

	// FilterShrink erodes labels: nonzero voxels take the minimum of their
	// face neighbours.
	FilterShrink = "shrink"

	// FilterIdentity copies voxels unchanged.
	FilterIdentity = "identity"
)

// FilterNames returns the registered filter names, sorted.
func FilterNames() []string {
	names := []string{FilterGrow, FilterShrink, FilterIdentity}
	sort.Strings(names)
	return names
}

// Filter looks up a filter by name.
func Filter[T array.Element](name string) (BlockTransform[T], error) {
	switch name {
	case FilterGrow:
		return Grow[T], nil
	case FilterShrink:
		return Shrink[T], nil
	case FilterIdentity:
		return Identity[T], nil
	}
	return nil, fmt.Errorf("%w %q (have %v)", ErrUnknownFilter, name, FilterNames())
}

// Identity returns a copy of b.
func Identity[T array.Element](b *array.Block[T]) (*array.Block[T], error) {
	return b.Clone(), nil
}

// Grow sets every zero voxel to the maximum of its 2*rank face
// neighbours. Nonzero voxels are kept.
func Grow[T array.Element](b *array.Block[T]) (*array.Block[T], error) {
	return faceFilter(b, func(v T) bool { return v == 0 }, func(acc, n T) T { return max(acc, n) }), nil
}

// Shrink sets every nonzero voxel to the minimum of its 2*rank face
// neighbours, so a voxel touching background becomes background. Zero
// voxels are kept.
func Shrink[T array.Element](b *array.Block[T]) (*array.Block[T], error) {
	return faceFilter(b, func(v T) bool { return v != 0 }, func(acc, n T) T { return min(acc, n) }), nil
}

// faceFilter replaces every voxel selected by apply with the fold of its
// face neighbours. Neighbours outside the block replicate the voxel itself,
// which matches "nearest" edge handling at the array boundary.
func faceFilter[T array.Element](b *array.Block[T], apply func(T) bool, fold func(acc, n T) T) *array.Block[T] {
	out := b.Clone()
	rank := len(b.Shape)
	strides := make([]int, rank)
	stride := 1
	for d := rank - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= b.Shape[d]
	}

	for i, v := range b.Data {
		if !apply(v) {
			continue
		}
		first := true
		var acc T
		take := func(n T) {
			if first {
				acc, first = n, false
				return
			}
			acc = fold(acc, n)
		}
		for d := 0; d < rank; d++ {
			coord := (i / strides[d]) % b.Shape[d]
			if coord > 0 {
				take(b.Data[i-strides[d]])
			} else {
				take(v)
			}
			if coord < b.Shape[d]-1 {
				take(b.Data[i+strides[d]])
			} else {
				take(v)
			}
		}
		out.Data[i] = acc
	}
	return out
}
