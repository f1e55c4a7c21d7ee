package checkpoint

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
)

// PrerequisiteError reports a unit whose prerequisite stage has no marker
// for it yet.
type PrerequisiteError struct {
	Stage   string
	UnitKey string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("unit %s has not completed stage %q", e.UnitKey, e.Stage)
}

// Checkpointer answers "is this unit of this stage done?" over a Store.
type Checkpointer struct {
	store  Store
	force  bool
	logger *slog.Logger
}

// Option configures a Checkpointer.
type Option func(*Checkpointer)

// WithForce makes every unit count as pending. Completed units are still
// marked, so a forced run leaves the same markers as a normal one.
func WithForce(force bool) Option {
	return func(c *Checkpointer) {
		c.force = force
	}
}

// WithLogger sets the logger for marker errors.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checkpointer) {
		c.logger = logger
	}
}

// New creates a Checkpointer over store.
func New(store Store, opts ...Option) *Checkpointer {
	c := &Checkpointer{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying marker store.
func (c *Checkpointer) Store() Store { return c.store }

// Forced reports whether force mode is on.
func (c *Checkpointer) Forced() bool { return c.force }

// IsDone reports whether unit has a marker for stage. Always false in
// force mode.
func (c *Checkpointer) IsDone(stage string, unit Unit) (bool, error) {
	if c.force {
		return false, nil
	}
	ok, err := c.store.Exists(stage, unit.Key())
	if err != nil {
		observability.LogMarkerError(c.logger, stage, unit.Key(), "exists", err)
		return false, fmt.Errorf("check %s/%s: %w", stage, unit.Key(), err)
	}
	return ok, nil
}

// MarkDone creates the marker for unit. Call it only after the unit's
// artifact is written. Marking twice is a no-op.
func (c *Checkpointer) MarkDone(stage string, unit Unit) error {
	if err := c.store.Create(stage, unit.Key()); err != nil {
		observability.LogMarkerError(c.logger, stage, unit.Key(), "create", err)
		return fmt.Errorf("mark %s/%s: %w", stage, unit.Key(), err)
	}
	return nil
}

// PendingUnits returns the units of stage without a marker, in input
// order. Duplicate keys are returned once.
func (c *Checkpointer) PendingUnits(stage string, units []Unit) ([]Unit, error) {
	seen := make(map[string]bool, len(units))
	pending := make([]Unit, 0, len(units))
	for _, u := range units {
		key := u.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		done, err := c.IsDone(stage, u)
		if err != nil {
			return nil, err
		}
		if !done {
			pending = append(pending, u)
		}
	}
	return pending, nil
}

// Require returns a *PrerequisiteError unless unit has a marker for
// prereq. Force mode does not bypass it: a forced run must redo the
// prerequisite stage first.
func (c *Checkpointer) Require(prereq string, unit Unit) error {
	ok, err := c.store.Exists(prereq, unit.Key())
	if err != nil {
		observability.LogMarkerError(c.logger, prereq, unit.Key(), "exists", err)
		return fmt.Errorf("check %s/%s: %w", prereq, unit.Key(), err)
	}
	if !ok {
		return &PrerequisiteError{Stage: prereq, UnitKey: unit.Key()}
	}
	return nil
}

// Clear removes the markers of the given units for stage.
func (c *Checkpointer) Clear(stage string, units ...Unit) error {
	for _, u := range units {
		if err := c.store.Clear(stage, u.Key()); err != nil {
			return fmt.Errorf("clear %s/%s: %w", stage, u.Key(), err)
		}
	}
	return nil
}
