// Package records reads and writes the tabular side products of a
// pipeline: detected spot coordinates, per-label box and center tables,
// and spot-to-label assignment counts.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrMissingColumn indicates a spot table without a z, y or x column.
var ErrMissingColumn = errors.New("spot table must have z, y and x columns")

// Spot is one detected point in voxel coordinates of the image it was
// detected in.
type Spot struct {
	Z, Y, X float64
	// Line is the 1-based data row the spot came from.
	Line int
}

// HasNaN reports whether any coordinate is NaN.
func (s Spot) HasNaN() bool {
	return math.IsNaN(s.Z) || math.IsNaN(s.Y) || math.IsNaN(s.X)
}

// ReadSpots reads a CSV table with a header row. Columns are found by
// name (z, y, x); other columns are ignored. Empty or "nan" cells read as
// NaN so the row still counts toward the total.
func ReadSpots(r io.Reader) ([]Spot, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read spot header: %w", err)
	}
	cols := map[string]int{"z": -1, "y": -1, "x": -1}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := cols[name]; ok && cols[name] < 0 {
			cols[name] = i
		}
	}
	for name, i := range cols {
		if i < 0 {
			return nil, fmt.Errorf("%w: no %q column in %v", ErrMissingColumn, name, header)
		}
	}

	var spots []Spot
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return spots, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read spot row %d: %w", line, err)
		}
		s := Spot{Line: line}
		for _, f := range []struct {
			col string
			dst *float64
		}{{"z", &s.Z}, {"y", &s.Y}, {"x", &s.X}} {
			i := cols[f.col]
			if i >= len(rec) {
				*f.dst = math.NaN()
				continue
			}
			if *f.dst, err = parseCoord(rec[i]); err != nil {
				return nil, fmt.Errorf("spot row %d column %s: %w", line, f.col, err)
			}
		}
		spots = append(spots, s)
	}
}

// ReadSpotsFile reads a spot table from disk.
func ReadSpotsFile(path string) ([]Spot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	spots, err := ReadSpots(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spots, nil
}

// SpotSetName names a spot table by its file name up to the first dot.
func SpotSetName(path string) string {
	name := filepath.Base(path)
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}

func parseCoord(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
