package chunkflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
)

// Sentinel errors for traversal setup.
var (
	// ErrShapeMismatch indicates input and output datasets differ in shape.
	ErrShapeMismatch = errors.New("dataset shapes differ")

	// ErrNotWritable indicates the output dataset was opened read-only.
	ErrNotWritable = errors.New("output dataset is not writable")

	// ErrInPlace indicates a traversal asked to write the dataset it reads.
	ErrInPlace = errors.New("input and output are the same dataset")

	// ErrInvalidIterations indicates an overlap filter was asked to run
	// fewer than one iteration.
	ErrInvalidIterations = errors.New("iterations must be at least 1")

	// ErrUnknownFilter indicates a filter name with no registered filter.
	ErrUnknownFilter = errors.New("unknown filter")

	// ErrInvalidStage indicates a stage without a name or unit function.
	ErrInvalidStage = errors.New("stage needs a name and a unit function")

	// ErrEmptyHistogram indicates a histogram with no counted values.
	ErrEmptyHistogram = errors.New("histogram is empty")
)

// ChunkReadError reports a chunk whose input region could not be read.
// Nothing is written for that chunk.
type ChunkReadError struct {
	// Index is the output chunk being computed.
	Index grid.Index
	// Err is the underlying read error.
	Err error
}

// Error implements the error interface.
func (e *ChunkReadError) Error() string {
	return fmt.Sprintf("read input for chunk %s: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ChunkReadError) Unwrap() error {
	return e.Err
}

// UnitFailure reports a work unit that did not complete. The unit stays
// Pending and runs again on the next invocation.
type UnitFailure struct {
	// Stage is the stage the unit belongs to.
	Stage string
	// UnitKey is the unit's marker key.
	UnitKey string
	// Op is what failed ("run" or "mark").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *UnitFailure) Error() string {
	return fmt.Sprintf("stage %s: unit %s: %s: %v", e.Stage, e.UnitKey, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *UnitFailure) Unwrap() error {
	return e.Err
}

// IterationError reports a failed overlap filter iteration. Earlier
// iterations are complete; the output of this one is partial.
type IterationError struct {
	Iteration int
	Err       error
}

// Error implements the error interface.
func (e *IterationError) Error() string {
	return fmt.Sprintf("iteration %d: %v", e.Iteration, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *IterationError) Unwrap() error {
	return e.Err
}
