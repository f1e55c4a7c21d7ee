// Package registration runs channel alignment as two resumable stages
// around an external alignment library.
//
// Stage "align" computes one transform per (fixed, moving) pair of
// reference channels. Stage "apply" resamples every moving channel with
// that transform and is gated on the pair's "align" marker. Artifacts are
// written through an ArtifactSink before their marker is created, so an
// interrupted run resumes with only the missing work.
package registration

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
)

// Stage names.
const (
	StageAlign = "align"
	StageApply = "apply"
)

// Volume is an image held in memory as float32 voxels.
type Volume = array.Block[float32]

// Mask marks the voxels used for alignment. A nil mask means every voxel
// with a value above zero.
type Mask = array.Block[uint8]

// Spacing is the physical voxel size per axis of both images.
type Spacing struct {
	Fixed  []float64
	Moving []float64
}

// Origins is the physical position of voxel zero of both images.
type Origins struct {
	Fixed  []float64
	Moving []float64
}

// Masks restricts alignment to foreground voxels.
type Masks struct {
	Fixed  *Mask
	Moving *Mask
}

// Step is one alignment pass. Steps run in order, each starting from the
// result of the previous one.
type Step struct {
	// Kind is "affine" or "deform".
	Kind string `json:"kind"`
	// AlignmentSpacing subsamples the images in physical space.
	AlignmentSpacing float64 `json:"alignment_spacing"`
	// ShrinkFactors lists the downsampling levels, coarsest first.
	ShrinkFactors []int `json:"shrink_factors"`
	// SmoothSigmas is the gaussian sigma per shrink level.
	SmoothSigmas []float64 `json:"smooth_sigmas"`
	// Iterations caps the optimizer iterations.
	Iterations int `json:"iterations"`
	// ControlPointSpacing is the physical control point spacing of a
	// deform step.
	ControlPointSpacing float64 `json:"control_point_spacing,omitempty"`
}

// Step kinds.
const (
	StepAffine = "affine"
	StepDeform = "deform"
)

// DefaultSteps mirrors the usual affine-then-deform pipeline.
func DefaultSteps() []Step {
	return []Step{
		{Kind: StepAffine, AlignmentSpacing: 2, ShrinkFactors: []int{2, 1}, SmoothSigmas: []float64{2, 0}, Iterations: 1000},
		{Kind: StepDeform, AlignmentSpacing: 2, ShrinkFactors: []int{2}, SmoothSigmas: []float64{0.25}, Iterations: 200, ControlPointSpacing: 128},
	}
}

// Validate checks a step's kind and that every shrink level has a sigma.
func (s Step) Validate() error {
	switch s.Kind {
	case StepAffine, StepDeform:
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	if len(s.ShrinkFactors) == 0 || len(s.ShrinkFactors) != len(s.SmoothSigmas) {
		return fmt.Errorf("%s step: %d shrink factors and %d smooth sigmas", s.Kind, len(s.ShrinkFactors), len(s.SmoothSigmas))
	}
	if s.Kind == StepDeform && s.ControlPointSpacing <= 0 {
		return fmt.Errorf("deform step: control point spacing must be positive")
	}
	return nil
}

// Transform maps fixed space to moving space: an optional homogeneous
// affine matrix (row-major, (rank+1)^2 values) followed by an optional
// displacement field with one vector per fixed voxel in the last axis.
type Transform struct {
	Affine []float64
	Field  *Volume
}

// Empty reports whether the transform is the identity.
func (t Transform) Empty() bool {
	return len(t.Affine) == 0 && t.Field == nil
}

// Aligner is the external alignment library.
type Aligner interface {
	// Align computes the transform that maps fixed onto moving.
	Align(ctx context.Context, fixed, moving *Volume, spacing Spacing, masks Masks, steps []Step) (Transform, error)

	// Apply resamples moving into the fixed image's grid.
	Apply(ctx context.Context, fixed, moving *Volume, spacing Spacing, transforms []Transform, origins Origins) (*Volume, error)
}

// ImageRef names one channel of one acquisition round.
type ImageRef struct {
	Batch      string
	Time       string
	Channel    string
	Resolution string
	Dataset    *array.Dataset
}

// Name returns the artifact prefix "batch_time_channel_res".
func (r ImageRef) Name() string {
	return strings.Join([]string{r.Batch, r.Time, r.Channel, r.Resolution}, "_")
}

// Unit returns the work unit identifying this image.
func (r ImageRef) Unit() checkpoint.Unit {
	return checkpoint.NewUnit("batch", r.Batch, "time", r.Time, "channel", r.Channel, "res", r.Resolution)
}

// TransformName is the artifact name of the transform aligning moving to
// fixed.
func TransformName(fixed, moving ImageRef) string {
	return fixed.Name() + "-" + moving.Name()
}

// RegisteredName is the artifact name of a resampled channel.
func RegisteredName(channel ImageRef) string {
	return "reg_" + channel.Name()
}

// ResampleMask resizes mask to shape with nearest-neighbour sampling. The
// corner voxels of both grids coincide.
func ResampleMask(mask *Mask, shape []int) (*Mask, error) {
	if len(shape) != len(mask.Shape) {
		return nil, fmt.Errorf("mask rank %d, image rank %d", len(mask.Shape), len(shape))
	}
	index := make([][]int, len(shape))
	for d, n := range shape {
		index[d] = make([]int, n)
		for i := range index[d] {
			if n > 1 {
				index[d][i] = int(math.Round(float64(i) * float64(mask.Shape[d]-1) / float64(n-1)))
			}
		}
	}

	out := &Mask{Shape: append([]int(nil), shape...), Origin: make([]int, len(shape)), Data: make([]uint8, volume(shape))}
	src := make([]int, len(shape))
	p := make([]int, len(shape))
	for i := range out.Data {
		for d := range p {
			src[d] = index[d][p[d]]
		}
		out.Data[i] = mask.Data[mask.Offset(src)]
		for d := len(p) - 1; d >= 0; d-- {
			p[d]++
			if p[d] < shape[d] {
				break
			}
			p[d] = 0
		}
	}
	return out, nil
}

func volume(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
