package registration_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/registration"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/retry"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shiftAligner "aligns" by returning a fixed affine and "applies" by
// adding the affine's last translation to every moving voxel.
type shiftAligner struct {
	mu        sync.Mutex
	aligns    int
	applied   []string
	alignErr  error
	applyErrs map[float32]error
	masks     []registration.Masks
}

var shiftAffine = []float64{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 100,
	0, 0, 0, 1,
}

func (a *shiftAligner) Align(_ context.Context, fixed, moving *registration.Volume, spacing registration.Spacing, masks registration.Masks, steps []registration.Step) (registration.Transform, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aligns++
	a.masks = append(a.masks, masks)
	if a.alignErr != nil {
		return registration.Transform{}, a.alignErr
	}
	return registration.Transform{Affine: shiftAffine}, nil
}

func (a *shiftAligner) Apply(_ context.Context, fixed, moving *registration.Volume, _ registration.Spacing, transforms []registration.Transform, _ registration.Origins) (*registration.Volume, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// Channels are told apart by their constant voxel value.
	if err := a.applyErrs[moving.Data[0]]; err != nil {
		return nil, err
	}
	a.applied = append(a.applied, string(rune('0'+int(moving.Data[0]))))
	out := &registration.Volume{Shape: fixed.Shape, Origin: fixed.Origin, Data: make([]float32, len(fixed.Data))}
	shift := float32(transforms[0].Affine[11])
	for i := range out.Data {
		out.Data[i] = moving.Data[i] + shift
	}
	return out, nil
}

func (a *shiftAligner) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aligns, len(a.applied)
}

type fixture struct {
	store   *store.MemoryStore
	markers *checkpoint.MemoryStore
	sink    *registration.DatasetSink
	job     registration.Job
}

func constantImage(t *testing.T, s store.Store, path string, v uint16) *array.Dataset {
	t.Helper()
	ds, err := array.Create(s, path, array.FormatN5, array.Meta{
		Shape:      []int{4, 4, 4},
		ChunkShape: []int{2, 2, 2},
		Dtype:      array.Uint16,
		Attributes: map[string]any{"pixelResolution": []float64{0.5, 0.5, 2}},
	})
	require.NoError(t, err)
	for _, c := range ds.Grid().Chunks() {
		b := array.NewBlock[uint16](c.Region)
		b.Fill(v)
		require.NoError(t, chunkio.WriteChunk(context.Background(), ds, c.Index, b, retry.NoRetry))
	}
	return ds
}

func newFixture(t *testing.T) *fixture {
	s := store.NewMemoryStore()
	ref := func(batch, channel string, v uint16) registration.ImageRef {
		return registration.ImageRef{
			Batch: batch, Time: "t1", Channel: channel, Resolution: "s2",
			Dataset: constantImage(t, s, batch+"/"+channel, v),
		}
	}
	return &fixture{
		store:   s,
		markers: checkpoint.NewMemoryStore(),
		sink:    registration.NewDatasetSink(s, "out", registration.WithRetryPolicy(retry.NoRetry)),
		job: registration.Job{
			Fixed:    ref("b1", "c3", 1),
			Moving:   ref("b2", "c3", 2),
			Channels: []registration.ImageRef{ref("b2", "c1", 3), ref("b2", "c2", 4), ref("b2", "c4", 5)},
		},
	}
}

func (f *fixture) pipeline(a registration.Aligner, force bool) *registration.Pipeline {
	cp := checkpoint.New(f.markers, checkpoint.WithForce(force))
	return registration.NewPipeline(a, f.sink, cp, chunkflow.WithLogger(nil), chunkflow.WithConcurrency(2))
}

func TestPipeline_RunAndResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := &shiftAligner{}

	report, err := f.pipeline(a, false).Run(ctx, f.job)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Align.Completed)
	assert.Equal(t, 3, report.Apply.Completed)
	aligns, applies := a.counts()
	assert.Equal(t, 1, aligns)
	assert.Equal(t, 3, applies)

	// Artifacts exist before markers are trusted.
	tr, err := f.sink.LoadTransform(ctx, "b1_t1_c3_s2-b2_t1_c3_s2")
	require.NoError(t, err)
	assert.Equal(t, shiftAffine, tr.Affine)
	assert.Nil(t, tr.Field)

	reg, err := array.Open(f.store, f.sink.VolumePath("reg_b2_t1_c2_s2"), array.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, array.Uint16.WithByteOrder(array.BOBigEndian), reg.Dtype())
	b, err := chunkio.ReadChunk[uint16](ctx, reg, grid.Index{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, uint16(104), b.Data[0])

	// Nothing left to do on the second run.
	a2 := &shiftAligner{}
	report, err = f.pipeline(a2, false).Run(ctx, f.job)
	require.NoError(t, err)
	aligns, applies = a2.counts()
	assert.Zero(t, aligns)
	assert.Zero(t, applies)
	assert.Equal(t, 1, report.Align.AlreadyDone)
	assert.Equal(t, 3, report.Apply.AlreadyDone)
}

func TestPipeline_FailedChannelIsRetriedAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := &shiftAligner{applyErrs: map[float32]error{4: errors.New("out of memory")}}

	report, err := f.pipeline(a, false).Run(ctx, f.job)
	require.Error(t, err)
	assert.False(t, report.OK())
	require.Len(t, report.Apply.Failures, 1)
	assert.Equal(t, 2, report.Apply.Completed)

	a2 := &shiftAligner{}
	report, err = f.pipeline(a2, false).Run(ctx, f.job)
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, a2.applied)
	assert.Zero(t, a2.aligns, "the transform is reused")
	assert.Equal(t, 2, report.Apply.AlreadyDone)
}

func TestPipeline_AlignFailureBlocksChannels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := &shiftAligner{alignErr: errors.New("did not converge")}

	report, err := f.pipeline(a, false).Run(ctx, f.job)
	require.Error(t, err)
	assert.ErrorContains(t, err, "did not converge")
	assert.Len(t, report.Apply.Blocked, 3)
	_, applies := a.counts()
	assert.Zero(t, applies)

	_, err = f.sink.LoadTransform(ctx, registration.TransformName(f.job.Fixed, f.job.Moving))
	assert.ErrorIs(t, err, registration.ErrNoTransform)
	assert.Zero(t, f.markers.Len())
}

func TestPipeline_ForceRedoesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.pipeline(&shiftAligner{}, false).Run(ctx, f.job)
	require.NoError(t, err)

	a := &shiftAligner{}
	report, err := f.pipeline(a, true).Run(ctx, f.job)
	require.NoError(t, err)
	aligns, applies := a.counts()
	assert.Equal(t, 1, aligns)
	assert.Equal(t, 3, applies)
	assert.Equal(t, 4, f.markers.Len())
	assert.Zero(t, report.Apply.AlreadyDone)
}

func TestPipeline_NewStepsRealign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.pipeline(&shiftAligner{}, false).Run(ctx, f.job)
	require.NoError(t, err)

	f.job.Steps = registration.DefaultSteps()[:1]
	f.job.Steps[0].Iterations = 50
	a := &shiftAligner{}
	_, err = f.pipeline(a, false).Run(ctx, f.job)
	require.NoError(t, err)
	aligns, applies := a.counts()
	assert.Equal(t, 1, aligns)
	assert.Equal(t, 3, applies)
}

func TestPipeline_MasksAreResampled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mask := &registration.Mask{Shape: []int{2, 2, 2}, Origin: []int{0, 0, 0}, Data: []uint8{1, 0, 0, 0, 0, 0, 0, 1}}
	f.job.Masks = registration.Masks{Fixed: mask}

	a := &shiftAligner{}
	_, err := f.pipeline(a, false).Run(ctx, f.job)
	require.NoError(t, err)
	require.Len(t, a.masks, 1)
	assert.Equal(t, []int{4, 4, 4}, a.masks[0].Fixed.Shape)
	assert.Nil(t, a.masks[0].Moving)
}

func TestPipeline_InvalidJob(t *testing.T) {
	f := newFixture(t)
	job := f.job
	job.Channels = append(job.Channels, registration.ImageRef{Batch: "b2", Channel: "c9"})
	_, err := f.pipeline(&shiftAligner{}, false).Run(context.Background(), job)
	assert.ErrorIs(t, err, registration.ErrInvalidJob)

	job = f.job
	job.Steps = []registration.Step{{Kind: "rigid"}}
	_, err = f.pipeline(&shiftAligner{}, false).Run(context.Background(), job)
	assert.ErrorIs(t, err, registration.ErrInvalidJob)
}

func TestUnits(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "b2_t1_c1_s2", f.job.Channels[0].Name())
	assert.Equal(t, "reg_b2_t1_c1_s2", registration.RegisteredName(f.job.Channels[0]))

	align := registration.AlignUnit(f.job)
	assert.Regexp(t, `^fixed=b1_t1_c3_s2,moving=b2_t1_c3_s2~[0-9a-f]{12}$`, align.Key())

	apply := registration.ApplyUnit(f.job, f.job.Channels[0])
	assert.Equal(t, "c1", apply.Field("channel"))
	assert.NotEqual(t, apply.Key(), registration.ApplyUnit(f.job, f.job.Channels[1]).Key())
}
