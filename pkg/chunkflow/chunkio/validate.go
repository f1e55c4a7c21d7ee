package chunkio

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/pool"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
)

// InvalidChunk is a chunk that failed the structural decode.
type InvalidChunk struct {
	Index  grid.Index
	Reason string
}

// Report summarizes a store validation. Missing and Invalid are in grid
// order.
type Report struct {
	Dataset string
	Total   int
	Valid   int
	Missing []grid.Index
	Invalid []InvalidChunk
}

// Bad returns the number of chunks that are missing or invalid.
func (r Report) Bad() int {
	return len(r.Missing) + len(r.Invalid)
}

// OK reports whether every chunk is present and decodes.
func (r Report) OK() bool {
	return r.Bad() == 0
}

type chunkStatus int

const (
	statusValid chunkStatus = iota
	statusMissing
	statusInvalid
)

type chunkCheck struct {
	status chunkStatus
	reason string
}

// ValidateStore runs the structural decode (header checks and full
// decompression, no value interpretation) over every chunk of ds. Per-chunk
// problems are counted in the report, never returned; the error is only
// for a cancelled context or a failing store.
func ValidateStore(ctx context.Context, ds *array.Dataset, concurrency int, opts ...Option) (Report, error) {
	o := buildOptions(opts)
	chunks := ds.Grid().Chunks()
	observability.LogTraversalStart(o.logger, "validate", len(chunks), pool.Concurrency(concurrency))
	done := observability.TimedOperation()

	results := pool.Map(ctx, chunks, concurrency, func(ctx context.Context, c grid.Chunk) (chunkCheck, error) {
		var check chunkCheck
		err := timed(ctx, o.metrics, "validate", func() error {
			var err error
			check, err = checkChunk(ds, c)
			return err
		})
		return check, err
	})

	report := Report{Dataset: ds.String(), Total: len(chunks)}
	for i, r := range results {
		if r.Err != nil {
			return report, fmt.Errorf("validate %s: chunk %s: %w", ds, chunks[i].Index, r.Err)
		}
		switch r.Value.status {
		case statusValid:
			report.Valid++
		case statusMissing:
			report.Missing = append(report.Missing, chunks[i].Index)
			observability.LogChunkSkipped(o.logger, "validate", chunks[i].Index.String(), "missing")
		case statusInvalid:
			report.Invalid = append(report.Invalid, InvalidChunk{Index: chunks[i].Index, Reason: r.Value.reason})
			observability.LogChunkSkipped(o.logger, "validate", chunks[i].Index.String(), r.Value.reason)
		}
	}

	observability.LogTraversalComplete(o.logger, "validate", done(), report.Total, report.Bad())
	return report, nil
}

func checkChunk(ds *array.Dataset, c grid.Chunk) (chunkCheck, error) {
	body, err := ds.ReadRaw(c.Index)
	if errors.Is(err, store.ErrNotFound) {
		return chunkCheck{status: statusMissing}, nil
	}
	if err != nil {
		return chunkCheck{}, err
	}
	if _, _, err := ds.DecodeRaw(c, body); err != nil {
		return chunkCheck{status: statusInvalid, reason: err.Error()}, nil
	}
	return chunkCheck{status: statusValid}, nil
}
