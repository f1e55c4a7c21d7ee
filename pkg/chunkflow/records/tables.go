package records

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow"
)

// WriteCounts writes one row per label and one count column per
// assignment. labels usually come from the label image's boxes, so
// labels without spots still get a row of zeros.
func WriteCounts(w io.Writer, labels []int64, as []Assignment) error {
	cw := csv.NewWriter(w)
	header := []string{"label"}
	for _, a := range as {
		header = append(header, a.Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, l := range labels {
		row := []string{formatInt(l)}
		for _, a := range as {
			row = append(row, formatInt(a.Counts[l]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePercentages writes the assigned percentage of every assignment.
func WritePercentages(w io.Writer, as []Assignment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"name", "percentage"}); err != nil {
		return err
	}
	for _, a := range as {
		if err := cw.Write([]string{a.Name, formatFloat(a.Percentage())}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBoxes writes one row per label: label then the inclusive min and
// max corner per axis (min_0, max_0, min_1, ...).
func WriteBoxes(w io.Writer, boxes chunkflow.LabelBoxes) error {
	cw := csv.NewWriter(w)
	labels := boxes.Labels()
	header := []string{"label"}
	if len(labels) > 0 {
		for i := range boxes[labels[0]].Min {
			header = append(header, "min_"+strconv.Itoa(i), "max_"+strconv.Itoa(i))
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, l := range labels {
		b := boxes[l]
		row := []string{formatInt(l)}
		for i := range b.Min {
			row = append(row, strconv.Itoa(b.Min[i]), strconv.Itoa(b.Max[i]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCenters writes one row per label: label then z, y, x (or axis_i
// for ranks other than 3).
func WriteCenters(w io.Writer, centers map[int64][]float64) error {
	cw := csv.NewWriter(w)
	labels := make(chunkflow.LabelBoxes, len(centers))
	rank := 0
	for l, c := range centers {
		labels[l] = chunkflow.BoundingBox{}
		rank = len(c)
	}
	header := []string{"label"}
	if rank == 3 {
		header = append(header, "z", "y", "x")
	} else {
		for i := 0; i < rank; i++ {
			header = append(header, "axis_"+strconv.Itoa(i))
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, l := range labels.Labels() {
		row := []string{formatInt(l)}
		for _, v := range centers[l] {
			row = append(row, formatFloat(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
