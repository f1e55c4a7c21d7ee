package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
)

// ErrInvalidJob indicates a job missing images or steps.
var ErrInvalidJob = errors.New("invalid registration job")

// Job aligns one moving round to a fixed round and resamples its
// channels.
type Job struct {
	// Fixed and Moving are the reference channels used for alignment.
	Fixed  ImageRef
	Moving ImageRef
	// Channels are the moving round's channels to resample.
	Channels []ImageRef
	// Masks restricts alignment; mask shapes need not match the images.
	Masks Masks
	// Steps default to DefaultSteps.
	Steps []Step
}

// Report describes both stages of a run.
type Report struct {
	Align chunkflow.StageReport
	Apply chunkflow.StageReport
}

// OK reports whether the transform and every channel are done.
func (r Report) OK() bool {
	return r.Align.OK() && r.Apply.OK()
}

// Pipeline runs Jobs through the align and apply stages.
type Pipeline struct {
	aligner Aligner
	sink    ArtifactSink
	cp      *checkpoint.Checkpointer
	opts    []chunkflow.Option
}

// NewPipeline creates a pipeline. opts apply to both stages; use
// chunkflow.WithConcurrency to bound parallel channels and
// checkpoint.WithForce on cp to redo finished work.
func NewPipeline(aligner Aligner, sink ArtifactSink, cp *checkpoint.Checkpointer, opts ...chunkflow.Option) *Pipeline {
	return &Pipeline{aligner: aligner, sink: sink, cp: cp, opts: opts}
}

// AlignUnit identifies the align work of a job. Step parameters are part
// of the key, so changing them makes the pair pending again.
func AlignUnit(job Job) checkpoint.Unit {
	return checkpoint.NewUnit("fixed", job.Fixed.Name(), "moving", job.Moving.Name()).
		WithParam("steps", job.steps())
}

// ApplyUnit identifies the apply work of one channel. It carries the
// align unit's key so a new transform makes every channel pending.
func ApplyUnit(job Job, channel ImageRef) checkpoint.Unit {
	return channel.Unit().WithParam("transform", AlignUnit(job).Key())
}

func (j Job) steps() []Step {
	if len(j.Steps) == 0 {
		return DefaultSteps()
	}
	return j.Steps
}

func (j Job) validate() error {
	for _, r := range append([]ImageRef{j.Fixed, j.Moving}, j.Channels...) {
		if r.Dataset == nil {
			return fmt.Errorf("%w: image %s has no dataset", ErrInvalidJob, r.Name())
		}
	}
	for _, s := range j.steps() {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
	}
	return nil
}

// Run aligns the job's reference channels unless the "align" marker
// exists, then resamples every channel without an "apply" marker. A
// channel is only resampled once its transform is marked done. Unit
// failures are returned joined; blocked channels are only reported.
func (p *Pipeline) Run(ctx context.Context, job Job) (Report, error) {
	var report Report
	if err := job.validate(); err != nil {
		return report, err
	}
	alignUnit := AlignUnit(job)
	transformName := TransformName(job.Fixed, job.Moving)

	fixed := sync.OnceValues(func() (*Volume, error) {
		return readVolume(ctx, job.Fixed.Dataset)
	})

	align := chunkflow.Stage{
		Name: StageAlign,
		Run: func(ctx context.Context, _ checkpoint.Unit) error {
			fix, err := fixed()
			if err != nil {
				return err
			}
			mov, err := readVolume(ctx, job.Moving.Dataset)
			if err != nil {
				return err
			}
			masks, err := resampleMasks(job.Masks, fix.Shape, mov.Shape)
			if err != nil {
				return err
			}
			t, err := p.aligner.Align(ctx, fix, mov, spacingOf(job.Fixed, job.Moving), masks, job.steps())
			if err != nil {
				return fmt.Errorf("align %s: %w", transformName, err)
			}
			return p.sink.SaveTransform(ctx, transformName, t)
		},
	}
	var err error
	report.Align, err = chunkflow.RunStage(ctx, p.cp, align, []checkpoint.Unit{alignUnit}, p.opts...)
	if err != nil {
		return report, err
	}

	channels := make(map[string]ImageRef, len(job.Channels))
	units := make([]checkpoint.Unit, len(job.Channels))
	for i, ch := range job.Channels {
		units[i] = ApplyUnit(job, ch)
		channels[units[i].Key()] = ch
	}
	transform := sync.OnceValues(func() (Transform, error) {
		return p.sink.LoadTransform(ctx, transformName)
	})

	apply := chunkflow.Stage{
		Name: StageApply,
		Prerequisites: []chunkflow.Prerequisite{{
			Stage: StageAlign,
			Unit:  func(checkpoint.Unit) checkpoint.Unit { return alignUnit },
		}},
		Run: func(ctx context.Context, u checkpoint.Unit) error {
			ch := channels[u.Key()]
			t, err := transform()
			if err != nil {
				return err
			}
			fix, err := fixed()
			if err != nil {
				return err
			}
			mov, err := readVolume(ctx, ch.Dataset)
			if err != nil {
				return err
			}
			reg, err := p.aligner.Apply(ctx, fix, mov, spacingOf(job.Fixed, ch), []Transform{t}, Origins{})
			if err != nil {
				return fmt.Errorf("apply %s: %w", ch.Name(), err)
			}
			// Resampled channels live in fixed space with the moving dtype.
			meta := job.Fixed.Dataset.Meta()
			meta.Dtype = ch.Dataset.Dtype()
			return p.sink.SaveVolume(ctx, RegisteredName(ch), reg, meta)
		},
	}
	report.Apply, err = chunkflow.RunStage(ctx, p.cp, apply, units, p.opts...)
	if err != nil {
		return report, err
	}
	return report, errors.Join(report.Align.Err(), report.Apply.Err())
}

func readVolume(ctx context.Context, ds *array.Dataset) (*Volume, error) {
	v, err := chunkio.ReadRegion[float32](ctx, ds, fullRegion(ds.Shape()))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ds, err)
	}
	return v, nil
}

func spacingOf(fixed, moving ImageRef) Spacing {
	return Spacing{Fixed: fixed.Dataset.Spacing(), Moving: moving.Dataset.Spacing()}
}

func resampleMasks(m Masks, fixedShape, movingShape []int) (Masks, error) {
	var out Masks
	var err error
	if m.Fixed != nil {
		if out.Fixed, err = ResampleMask(m.Fixed, fixedShape); err != nil {
			return Masks{}, fmt.Errorf("fixed mask: %w", err)
		}
	}
	if m.Moving != nil {
		if out.Moving, err = ResampleMask(m.Moving, movingShape); err != nil {
			return Masks{}, fmt.Errorf("moving mask: %w", err)
		}
	}
	return out, nil
}
