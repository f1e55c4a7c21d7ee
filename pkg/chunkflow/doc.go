/*
Package chunkflow processes N-dimensional voxel arrays that are too large to
hold in memory, one chunk at a time, and makes multi-stage pipelines over
them resumable.

# Overview

A dataset (see package array) is partitioned into chunks by its grid
(package grid). chunkflow runs three kinds of traversal over that grid:

  - Overlap filters (RunOverlap): each chunk is read with a halo of
    neighbouring voxels, transformed, and only its interior is written.
    Iterations are strict barriers.
  - Reductions (Reduce): each chunk yields a partial result, merged with an
    associative, commutative merge into one global result. Histograms,
    label bounding boxes and centers of mass are built in.
  - Chunk maps (MapChunks): each chunk is transformed independently and
    written to an output dataset, e.g. ThresholdMask.

Every chunk write goes through package chunkio, which re-reads and
validates it and retries per a retry.Policy.

# Stages and Resume

Long pipelines are split into stages of work units. RunStage skips units
whose marker already exists, runs the rest with bounded concurrency and
marks each unit done only after it succeeded:

	cp := checkpoint.New(store)
	report, err := chunkflow.RunStage(ctx, cp, chunkflow.Stage{
	    Name: "mask",
	    Run: func(ctx context.Context, u checkpoint.Unit) error {
	        return buildMask(ctx, u)
	    },
	}, units, chunkflow.WithConcurrency(4))

A rerun after a crash only runs the units that were not marked.

# Concurrency

Chunk-level and unit-level concurrency are configured independently with
WithConcurrency on each call. Both use package pool: tasks never fail fast,
results keep input order, and a panic becomes a *pool.PanicError result.
A single writer per chunk is the caller's responsibility.
*/
package chunkflow
