// Package checkpoint records which work units of which stages are done.
//
// A marker is an empty record keyed by (stage, unit key). It is created
// atomically, only after the unit's artifact has been written, and the
// engine never deletes it. Clear exists for operators and force runs.
// A unit is Pending until its marker exists and Done afterwards; a failed
// unit persists nothing.
package checkpoint

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store persists stage markers.
// Implementations must be safe for concurrent use.
type Store interface {
	// Exists reports whether the marker for (stage, unitKey) exists.
	Exists(stage, unitKey string) (bool, error)

	// Create atomically creates the marker if it is absent.
	// Creating an existing marker is a no-op.
	Create(stage, unitKey string) error

	// List returns the markers of a stage ordered by unit key.
	// Returns an empty slice (not error) for an unknown stage.
	List(stage string) ([]Marker, error)

	// Stages returns every stage with at least one marker, sorted.
	Stages() ([]string, error)

	// Clear removes one marker. Returns nil if it doesn't exist.
	Clear(stage, unitKey string) error

	// ClearStage removes every marker of a stage.
	ClearStage(stage string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Marker records that a unit of a stage completed.
type Marker struct {
	Stage     string
	UnitKey   string
	CreatedAt time.Time
}

// Sentinel errors for checkpoint operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidKey indicates a stage name or unit key that cannot name a
	// marker.
	ErrInvalidKey = errors.New("invalid marker key")
)

// validateKey rejects names that are empty or could escape a stage
// directory.
func validateKey(kind, s string) error {
	switch {
	case s == "", s == ".", s == "..":
		return fmt.Errorf("%w: %s %q", ErrInvalidKey, kind, s)
	case strings.ContainsAny(s, `/\`+"\x00"):
		return fmt.Errorf("%w: %s %q contains a path separator", ErrInvalidKey, kind, s)
	}
	return nil
}

func validateMarker(stage, unitKey string) error {
	if err := validateKey("stage", stage); err != nil {
		return err
	}
	return validateKey("unit key", unitKey)
}
