package chunkflow

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/pool"
)

// UnitFunc performs one unit of stage work, artifact included. It must
// return only after the artifact is durably written.
type UnitFunc func(ctx context.Context, unit checkpoint.Unit) error

// Prerequisite names a stage whose marker must exist before a unit runs.
type Prerequisite struct {
	// Stage is the prerequisite stage name.
	Stage string
	// Unit maps a unit of the dependent stage to the prerequisite unit.
	// Nil means the same unit.
	Unit func(checkpoint.Unit) checkpoint.Unit
}

// After is a prerequisite on the same unit of stage.
func After(stage string) Prerequisite {
	return Prerequisite{Stage: stage}
}

func (p Prerequisite) unitFor(u checkpoint.Unit) checkpoint.Unit {
	if p.Unit == nil {
		return u
	}
	return p.Unit(u)
}

// Stage is a named step of a pipeline.
type Stage struct {
	Name          string
	Prerequisites []Prerequisite
	Run           UnitFunc
}

// BlockedUnit is a unit skipped because a prerequisite marker is missing.
type BlockedUnit struct {
	UnitKey      string
	Prerequisite string
}

// StageReport describes a finished stage run.
type StageReport struct {
	Stage string
	// Total is the number of distinct units requested.
	Total int
	// AlreadyDone counts units skipped because their marker existed.
	AlreadyDone int
	// Completed counts units run and marked in this invocation.
	Completed int
	Blocked   []BlockedUnit
	Failures  []*UnitFailure
	Duration  time.Duration
}

// OK reports whether every requested unit is now done.
func (r StageReport) OK() bool {
	return len(r.Blocked) == 0 && len(r.Failures) == 0
}

// Err joins the unit failures, or returns nil.
func (r StageReport) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// RunStage runs every unit of stage that is not yet done and whose
// prerequisites are done, marking each unit after it succeeds. Units run
// on the worker pool with the WithConcurrency limit and never fail fast.
//
// Unit failures are collected in the report and persist nothing, so the
// unit runs again next time. The error return is reserved for marker
// store failures and invalid stages.
func RunStage(ctx context.Context, cp *checkpoint.Checkpointer, stage Stage, units []checkpoint.Unit, opts ...Option) (StageReport, error) {
	report := StageReport{Stage: stage.Name}
	if stage.Name == "" || stage.Run == nil {
		return report, ErrInvalidStage
	}

	cfg := buildRunConfig(opts)
	logger := observability.EnrichLogger(cfg.logger, cfg.runID, stage.Name)
	ctx, span := cfg.spans.StartStageSpan(ctx, stage.Name, cfg.runID)
	start := time.Now()

	pending, err := cp.PendingUnits(stage.Name, units)
	if err != nil {
		cfg.spans.EndSpanWithError(span, err)
		return report, err
	}
	report.Total = countDistinct(units)
	report.AlreadyDone = report.Total - len(pending)

	runnable := make([]checkpoint.Unit, 0, len(pending))
	for _, u := range pending {
		blocked, err := firstMissingPrerequisite(cp, stage, u)
		if err != nil {
			cfg.spans.EndSpanWithError(span, err)
			return report, err
		}
		if blocked != "" {
			report.Blocked = append(report.Blocked, BlockedUnit{UnitKey: u.Key(), Prerequisite: blocked})
			observability.LogUnitBlocked(logger, stage.Name, u.Key(), blocked)
			continue
		}
		runnable = append(runnable, u)
	}

	observability.LogStageStart(logger, stage.Name, len(runnable), report.AlreadyDone, len(report.Blocked))

	results := pool.Map(ctx, runnable, cfg.concurrency, func(ctx context.Context, u checkpoint.Unit) (struct{}, error) {
		unitStart := time.Now()
		err := runUnit(ctx, cp, stage, u)
		cfg.metrics.RecordUnit(ctx, stage.Name, time.Since(unitStart), err)
		if err == nil {
			observability.LogUnitDone(logger, stage.Name, u.Key(), float64(time.Since(unitStart).Milliseconds()))
		}
		return struct{}{}, err
	})

	for i, r := range results {
		if r.Err == nil {
			report.Completed++
			continue
		}
		var failure *UnitFailure
		if !errors.As(r.Err, &failure) {
			failure = &UnitFailure{Stage: stage.Name, UnitKey: runnable[i].Key(), Op: "run", Err: r.Err}
		}
		report.Failures = append(report.Failures, failure)
		observability.LogUnitError(logger, stage.Name, failure.UnitKey, failure.Err)
	}

	report.Duration = time.Since(start)
	observability.LogStageComplete(logger, stage.Name, float64(report.Duration.Milliseconds()), report.Completed, len(report.Failures))
	cfg.spans.EndSpanWithError(span, report.Err())
	return report, nil
}

// runUnit runs one unit and marks it done on success.
func runUnit(ctx context.Context, cp *checkpoint.Checkpointer, stage Stage, u checkpoint.Unit) error {
	if err := stage.Run(ctx, u); err != nil {
		return &UnitFailure{Stage: stage.Name, UnitKey: u.Key(), Op: "run", Err: err}
	}
	if err := cp.MarkDone(stage.Name, u); err != nil {
		return &UnitFailure{Stage: stage.Name, UnitKey: u.Key(), Op: "mark", Err: err}
	}
	return nil
}

// firstMissingPrerequisite returns the first prerequisite stage without a
// marker for u, or "".
func firstMissingPrerequisite(cp *checkpoint.Checkpointer, stage Stage, u checkpoint.Unit) (string, error) {
	for _, p := range stage.Prerequisites {
		err := cp.Require(p.Stage, p.unitFor(u))
		var missing *checkpoint.PrerequisiteError
		switch {
		case err == nil:
		case errors.As(err, &missing):
			return p.Stage, nil
		default:
			return "", err
		}
	}
	return "", nil
}

func countDistinct(units []checkpoint.Unit) int {
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		seen[u.Key()] = struct{}{}
	}
	return len(seen)
}
