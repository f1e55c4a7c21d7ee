package chunkflow

import (
	"context"
	"fmt"
	"math"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"gonum.org/v1/gonum/stat"
)

// Histogram counts values in Bins equal-width bins over [Lo, Hi]. The last
// bin includes Hi; values outside the range are not counted.
type Histogram struct {
	Lo     float64
	Hi     float64
	Counts []int64
}

// NewHistogram returns an empty histogram.
func NewHistogram(bins int, lo, hi float64) (Histogram, error) {
	if bins < 1 {
		return Histogram{}, fmt.Errorf("histogram needs at least one bin, got %d", bins)
	}
	if !(hi > lo) {
		return Histogram{}, fmt.Errorf("histogram range [%g, %g] is empty", lo, hi)
	}
	return Histogram{Lo: lo, Hi: hi, Counts: make([]int64, bins)}, nil
}

// Bins returns the number of bins.
func (h Histogram) Bins() int {
	return len(h.Counts)
}

// Bin returns the bin v falls in, or -1 when v is out of range.
func (h Histogram) Bin(v float64) int {
	if !(v >= h.Lo && v <= h.Hi) {
		return -1
	}
	if v == h.Hi {
		return len(h.Counts) - 1
	}
	i := int((v - h.Lo) / (h.Hi - h.Lo) * float64(len(h.Counts)))
	return min(i, len(h.Counts)-1)
}

// Add counts one value.
func (h Histogram) Add(v float64) {
	if i := h.Bin(v); i >= 0 {
		h.Counts[i]++
	}
}

// Edge returns the lower edge of bin i; Edge(Bins()) is Hi.
func (h Histogram) Edge(i int) float64 {
	return h.Lo + (h.Hi-h.Lo)*float64(i)/float64(len(h.Counts))
}

// Centers returns the center value of every bin.
func (h Histogram) Centers() []float64 {
	out := make([]float64, len(h.Counts))
	for i := range out {
		out[i] = (h.Edge(i) + h.Edge(i+1)) / 2
	}
	return out
}

// Total returns the number of counted values.
func (h Histogram) Total() int64 {
	var n int64
	for _, c := range h.Counts {
		n += c
	}
	return n
}

// MergeHistograms adds counts bin by bin. A histogram without counts is
// the identity. Both histograms must share bins and range.
func MergeHistograms(a, b Histogram) Histogram {
	if a.Counts == nil {
		return b
	}
	if b.Counts == nil {
		return a
	}
	out := Histogram{Lo: a.Lo, Hi: a.Hi, Counts: make([]int64, len(a.Counts))}
	for i := range out.Counts {
		out.Counts[i] = a.Counts[i] + b.Counts[i]
	}
	return out
}

// ComputeHistogram builds the histogram of every voxel of in.
func ComputeHistogram[T array.Element](ctx context.Context, in *array.Dataset, bins int, lo, hi float64, opts ...Option) (Histogram, error) {
	empty, err := NewHistogram(bins, lo, hi)
	if err != nil {
		return Histogram{}, err
	}
	perChunk := func(_ grid.Chunk, b *array.Block[T]) (Histogram, error) {
		h := Histogram{Lo: lo, Hi: hi, Counts: make([]int64, bins)}
		for _, v := range b.Data {
			h.Add(float64(v))
		}
		return h, nil
	}
	return Reduce(ctx, in, perChunk, MergeHistograms, empty, opts...)
}

// TriangleThreshold returns the split bin of the triangle method: the bin
// farthest from the line joining the histogram peak to the end of its
// longer tail, minus one. Values in bins above the split are foreground.
func TriangleThreshold(h Histogram) (int, error) {
	data := h.Counts
	n := len(data)
	first, last := -1, -1
	peak := 0
	for i, c := range data {
		if c == 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
		if c > data[peak] {
			peak = i
		}
	}
	if first < 0 {
		return 0, ErrEmptyHistogram
	}

	// Work on the side with the longer tail by flipping the histogram.
	at := func(i int) int64 { return data[i] }
	lo, top := first, peak
	inverted := peak-first < last-peak
	if inverted {
		at = func(i int) int64 { return data[n-1-i] }
		lo, top = n-1-last, n-1-peak
	}
	unflip := func(i int) int {
		if inverted {
			return n - 1 - i
		}
		return i
	}
	if lo == top {
		return unflip(lo), nil
	}

	nx := float64(data[peak])
	ny := float64(lo - top)
	norm := math.Hypot(nx, ny)
	nx /= norm
	ny /= norm
	d := nx*float64(lo) + ny*float64(at(lo))

	best, bestDist := lo, math.Inf(-1)
	for x := lo; x <= top; x++ {
		dist := nx*float64(x) + ny*float64(at(x)) - d
		if dist > bestDist {
			best, bestDist = x, dist
		}
	}
	// The split is one below the farthest bin, which can step off the end.
	return min(max(unflip(best-1), 0), n-1), nil
}

// TriangleThresholdValue converts TriangleThreshold's split bin into an
// intensity: the lower edge of the bin below the split. With the default
// layout (bins of width one starting at 1) that is the split index itself.
func TriangleThresholdValue(h Histogram) (float64, error) {
	split, err := TriangleThreshold(h)
	if err != nil {
		return 0, err
	}
	return h.Edge(split - 1), nil
}

// MedianFromHistogram returns the center of the first bin at which the
// cumulative count reaches half the total, truncated to an integer.
func MedianFromHistogram(h Histogram) (float64, error) {
	total := h.Total()
	if total == 0 {
		return 0, ErrEmptyHistogram
	}
	weights := make([]float64, len(h.Counts))
	for i, c := range h.Counts {
		weights[i] = float64(c)
	}
	// Empirical quantiles return the first x whose cumulative weight
	// reaches the fraction, matching a left-sided search of the cumsum.
	m := stat.Quantile(0.5, stat.Empirical, h.Centers(), weights)
	return math.Trunc(m), nil
}
