package records

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/pool"
	"golang.org/x/exp/constraints"
)

// Assignment counts the spots of one table falling in each label.
type Assignment struct {
	Name string
	// Counts maps label to spot count. Background is never a key.
	Counts map[int64]int64
	// Total is the number of spots read, including skipped ones.
	Total int
	// Assigned counts spots inside a non-background label.
	Assigned int
	// NaN counts spots with a NaN coordinate.
	NaN int
	// Outside counts spots outside the label image.
	Outside int
}

// Percentage returns Assigned as a percentage of Total, or 0 for an
// empty table.
func (a Assignment) Percentage() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Assigned) / float64(a.Total) * 100
}

// AssignSpots looks up the label under every spot. Spot coordinates are
// multiplied by scale (z, y, x) and rounded to the nearest voxel. Only
// chunks holding at least one spot are read, concurrency at a time.
// Labels equal to background are not counted.
func AssignSpots[T constraints.Integer](ctx context.Context, labels *array.Dataset, name string, spots []Spot, scale [3]float64, background int64, concurrency int) (Assignment, error) {
	a := Assignment{Name: name, Counts: make(map[int64]int64), Total: len(spots)}
	shape := labels.Shape()
	if len(shape) != 3 {
		return a, fmt.Errorf("label image %s has rank %d, want 3", labels, len(shape))
	}
	chunkShape := labels.ChunkShape()

	byChunk := make(map[string][][]int)
	var order []grid.Index
	for _, s := range spots {
		if s.HasNaN() {
			a.NaN++
			continue
		}
		p := []int{
			int(math.Round(s.Z * scale[0])),
			int(math.Round(s.Y * scale[1])),
			int(math.Round(s.X * scale[2])),
		}
		if !inBounds(p, shape) {
			a.Outside++
			continue
		}
		idx := make(grid.Index, 3)
		for i := range p {
			idx[i] = p[i] / chunkShape[i]
		}
		key := idx.String()
		if _, ok := byChunk[key]; !ok {
			order = append(order, idx)
		}
		byChunk[key] = append(byChunk[key], p)
	}

	results := pool.Map(ctx, order, concurrency, func(ctx context.Context, idx grid.Index) (map[int64]int64, error) {
		b, err := chunkio.ReadChunk[T](ctx, labels, idx)
		if err != nil {
			return nil, err
		}
		counts := make(map[int64]int64)
		for _, p := range byChunk[idx.String()] {
			if label := int64(b.At(p)); label != background {
				counts[label]++
			}
		}
		return counts, nil
	})
	if err := pool.Join(results); err != nil {
		return a, fmt.Errorf("assign %s: %w", name, err)
	}
	for _, r := range results {
		for label, n := range r.Value {
			a.Counts[label] += n
			a.Assigned += int(n)
		}
	}
	return a, nil
}

func inBounds(p, shape []int) bool {
	for i, v := range p {
		if v < 0 || v >= shape[i] {
			return false
		}
	}
	return true
}

// AssignmentLabels returns the labels counted in any assignment, sorted.
func AssignmentLabels(as []Assignment) []int64 {
	seen := make(map[int64]struct{})
	for _, a := range as {
		for l := range a.Counts {
			seen[l] = struct{}{}
		}
	}
	labels := make([]int64, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels
}
