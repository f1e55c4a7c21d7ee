package main

import (
	"context"
	"fmt"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/records"
)

// elementKind identifies a Go element type regardless of byte order.
type elementKind struct {
	basic array.BasicType
	size  int
}

func kindOf(dt array.Dtype) elementKind {
	return elementKind{dt.BasicType, dt.ByteSize}
}

var (
	kindUint8   = kindOf(array.Uint8)
	kindUint16  = kindOf(array.Uint16)
	kindUint32  = kindOf(array.Uint32)
	kindUint64  = kindOf(array.Uint64)
	kindInt8    = kindOf(array.Int8)
	kindInt16   = kindOf(array.Int16)
	kindInt32   = kindOf(array.Int32)
	kindInt64   = kindOf(array.Int64)
	kindFloat32 = kindOf(array.Float32)
	kindFloat64 = kindOf(array.Float64)
)

func unsupported(op string, ds *array.Dataset) error {
	return fmt.Errorf("%s: dtype %s of %s is not supported", op, ds.Dtype(), ds)
}

// Intensity commands accept every element kind; label commands accept
// integer kinds only.

func histogramOf(ctx context.Context, ds *array.Dataset, bins int, lo, hi float64, opts ...chunkflow.Option) (chunkflow.Histogram, error) {
	switch kindOf(ds.Dtype()) {
	case kindUint8:
		return chunkflow.ComputeHistogram[uint8](ctx, ds, bins, lo, hi, opts...)
	case kindUint16:
		return chunkflow.ComputeHistogram[uint16](ctx, ds, bins, lo, hi, opts...)
	case kindUint32:
		return chunkflow.ComputeHistogram[uint32](ctx, ds, bins, lo, hi, opts...)
	case kindUint64:
		return chunkflow.ComputeHistogram[uint64](ctx, ds, bins, lo, hi, opts...)
	case kindInt8:
		return chunkflow.ComputeHistogram[int8](ctx, ds, bins, lo, hi, opts...)
	case kindInt16:
		return chunkflow.ComputeHistogram[int16](ctx, ds, bins, lo, hi, opts...)
	case kindInt32:
		return chunkflow.ComputeHistogram[int32](ctx, ds, bins, lo, hi, opts...)
	case kindInt64:
		return chunkflow.ComputeHistogram[int64](ctx, ds, bins, lo, hi, opts...)
	case kindFloat32:
		return chunkflow.ComputeHistogram[float32](ctx, ds, bins, lo, hi, opts...)
	case kindFloat64:
		return chunkflow.ComputeHistogram[float64](ctx, ds, bins, lo, hi, opts...)
	}
	return chunkflow.Histogram{}, unsupported("histogram", ds)
}

func thresholdMask(ctx context.Context, in, out *array.Dataset, threshold float64, opts ...chunkflow.Option) error {
	switch kindOf(in.Dtype()) {
	case kindUint8:
		return chunkflow.ThresholdMask[uint8](ctx, in, out, threshold, opts...)
	case kindUint16:
		return chunkflow.ThresholdMask[uint16](ctx, in, out, threshold, opts...)
	case kindUint32:
		return chunkflow.ThresholdMask[uint32](ctx, in, out, threshold, opts...)
	case kindUint64:
		return chunkflow.ThresholdMask[uint64](ctx, in, out, threshold, opts...)
	case kindInt8:
		return chunkflow.ThresholdMask[int8](ctx, in, out, threshold, opts...)
	case kindInt16:
		return chunkflow.ThresholdMask[int16](ctx, in, out, threshold, opts...)
	case kindInt32:
		return chunkflow.ThresholdMask[int32](ctx, in, out, threshold, opts...)
	case kindInt64:
		return chunkflow.ThresholdMask[int64](ctx, in, out, threshold, opts...)
	case kindFloat32:
		return chunkflow.ThresholdMask[float32](ctx, in, out, threshold, opts...)
	case kindFloat64:
		return chunkflow.ThresholdMask[float64](ctx, in, out, threshold, opts...)
	}
	return unsupported("threshold", in)
}

func overlap[T array.Element](ctx context.Context, in, out *array.Dataset, halo int, filter string, iterations int, opts ...chunkflow.Option) (chunkflow.OverlapReport, error) {
	f, err := chunkflow.Filter[T](filter)
	if err != nil {
		return chunkflow.OverlapReport{}, err
	}
	return chunkflow.RunOverlap(ctx, in, out, halo, f, iterations, opts...)
}

func runOverlap(ctx context.Context, in, out *array.Dataset, halo int, filter string, iterations int, opts ...chunkflow.Option) (chunkflow.OverlapReport, error) {
	switch kindOf(in.Dtype()) {
	case kindUint8:
		return overlap[uint8](ctx, in, out, halo, filter, iterations, opts...)
	case kindUint16:
		return overlap[uint16](ctx, in, out, halo, filter, iterations, opts...)
	case kindUint32:
		return overlap[uint32](ctx, in, out, halo, filter, iterations, opts...)
	case kindUint64:
		return overlap[uint64](ctx, in, out, halo, filter, iterations, opts...)
	case kindInt8:
		return overlap[int8](ctx, in, out, halo, filter, iterations, opts...)
	case kindInt16:
		return overlap[int16](ctx, in, out, halo, filter, iterations, opts...)
	case kindInt32:
		return overlap[int32](ctx, in, out, halo, filter, iterations, opts...)
	case kindInt64:
		return overlap[int64](ctx, in, out, halo, filter, iterations, opts...)
	case kindFloat32:
		return overlap[float32](ctx, in, out, halo, filter, iterations, opts...)
	case kindFloat64:
		return overlap[float64](ctx, in, out, halo, filter, iterations, opts...)
	}
	return chunkflow.OverlapReport{}, unsupported("filter", in)
}

func labelBoxes(ctx context.Context, ds *array.Dataset, background int64, opts ...chunkflow.Option) (chunkflow.LabelBoxes, error) {
	switch kindOf(ds.Dtype()) {
	case kindUint8:
		return chunkflow.ComputeLabelBoxes[uint8](ctx, ds, background, opts...)
	case kindUint16:
		return chunkflow.ComputeLabelBoxes[uint16](ctx, ds, background, opts...)
	case kindUint32:
		return chunkflow.ComputeLabelBoxes[uint32](ctx, ds, background, opts...)
	case kindUint64:
		return chunkflow.ComputeLabelBoxes[uint64](ctx, ds, background, opts...)
	case kindInt8:
		return chunkflow.ComputeLabelBoxes[int8](ctx, ds, background, opts...)
	case kindInt16:
		return chunkflow.ComputeLabelBoxes[int16](ctx, ds, background, opts...)
	case kindInt32:
		return chunkflow.ComputeLabelBoxes[int32](ctx, ds, background, opts...)
	case kindInt64:
		return chunkflow.ComputeLabelBoxes[int64](ctx, ds, background, opts...)
	}
	return nil, unsupported("bbox", ds)
}

func centersOfMass(ctx context.Context, ds *array.Dataset, boxes chunkflow.LabelBoxes, opts ...chunkflow.Option) (map[int64][]float64, error) {
	switch kindOf(ds.Dtype()) {
	case kindUint8:
		return chunkflow.CentersOfMass[uint8](ctx, ds, boxes, opts...)
	case kindUint16:
		return chunkflow.CentersOfMass[uint16](ctx, ds, boxes, opts...)
	case kindUint32:
		return chunkflow.CentersOfMass[uint32](ctx, ds, boxes, opts...)
	case kindUint64:
		return chunkflow.CentersOfMass[uint64](ctx, ds, boxes, opts...)
	case kindInt8:
		return chunkflow.CentersOfMass[int8](ctx, ds, boxes, opts...)
	case kindInt16:
		return chunkflow.CentersOfMass[int16](ctx, ds, boxes, opts...)
	case kindInt32:
		return chunkflow.CentersOfMass[int32](ctx, ds, boxes, opts...)
	case kindInt64:
		return chunkflow.CentersOfMass[int64](ctx, ds, boxes, opts...)
	}
	return nil, unsupported("centers", ds)
}

func assignSpots(ctx context.Context, ds *array.Dataset, name string, spots []records.Spot, scale [3]float64, concurrency int) (records.Assignment, error) {
	switch kindOf(ds.Dtype()) {
	case kindUint8:
		return records.AssignSpots[uint8](ctx, ds, name, spots, scale, 0, concurrency)
	case kindUint16:
		return records.AssignSpots[uint16](ctx, ds, name, spots, scale, 0, concurrency)
	case kindUint32:
		return records.AssignSpots[uint32](ctx, ds, name, spots, scale, 0, concurrency)
	case kindUint64:
		return records.AssignSpots[uint64](ctx, ds, name, spots, scale, 0, concurrency)
	case kindInt8:
		return records.AssignSpots[int8](ctx, ds, name, spots, scale, 0, concurrency)
	case kindInt16:
		return records.AssignSpots[int16](ctx, ds, name, spots, scale, 0, concurrency)
	case kindInt32:
		return records.AssignSpots[int32](ctx, ds, name, spots, scale, 0, concurrency)
	case kindInt64:
		return records.AssignSpots[int64](ctx, ds, name, spots, scale, 0, concurrency)
	}
	return records.Assignment{}, unsupported("spots", ds)
}
