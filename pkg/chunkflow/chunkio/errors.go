package chunkio

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
)

// ErrValidation is the cause recorded when a written chunk does not read
// back identically or does not decode.
var ErrValidation = errors.New("chunk failed read-back validation")

// ChunkMissingError reports a chunk with no stored body.
type ChunkMissingError struct {
	Dataset string
	Index   grid.Index
	Err     error
}

func (e *ChunkMissingError) Error() string {
	return fmt.Sprintf("chunk %s of %s is missing", e.Index, e.Dataset)
}

func (e *ChunkMissingError) Unwrap() error {
	return e.Err
}

// ChunkCorruptError reports a chunk that exists but cannot be used: it does
// not decode, or it holds NaN or infinite values.
type ChunkCorruptError struct {
	Dataset string
	Index   grid.Index
	Reason  string
	Err     error
}

func (e *ChunkCorruptError) Error() string {
	return fmt.Sprintf("chunk %s of %s is corrupt: %s", e.Index, e.Dataset, e.Reason)
}

func (e *ChunkCorruptError) Unwrap() error {
	return e.Err
}

// ChunkWriteError reports a chunk write that failed after every attempt
// the retry policy allowed. Other chunks of the same traversal are not
// rolled back.
type ChunkWriteError struct {
	Dataset  string
	Index    grid.Index
	Attempts int
	Err      error
}

func (e *ChunkWriteError) Error() string {
	return fmt.Sprintf("write chunk %s of %s failed after %d attempt(s): %v", e.Index, e.Dataset, e.Attempts, e.Err)
}

func (e *ChunkWriteError) Unwrap() error {
	return e.Err
}

// IsMissing reports whether err is (or wraps) a ChunkMissingError.
func IsMissing(err error) bool {
	var missing *ChunkMissingError
	return errors.As(err, &missing)
}

// IsCorrupt reports whether err is (or wraps) a ChunkCorruptError.
func IsCorrupt(err error) bool {
	var corrupt *ChunkCorruptError
	return errors.As(err, &corrupt)
}
