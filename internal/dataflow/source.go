package dataflow

import (
	"context"

	"github.com/fluxrun/fluxrun/internal/id"
)

// Source is the closed set of input shapes a blueprint's Input step may
// declare. A Source must be either Partitioned or Dynamic; the compiler
// fails with a ConfigError for anything else (spec.md §4.D).
type Source interface {
	isSource()
}

// Partitioned sources own a fixed set of keyed partitions distributed
// across workers and participate in recovery: they can rewind to a
// resume epoch using persisted per-partition state.
type PartitionedSource interface {
	Source
	// Partitions reports the fixed set of partition identifiers this
	// source is divided into, independent of worker count.
	Partitions(ctx context.Context) ([]string, error)
	// Build instantiates the per-worker reader for the partitions this
	// worker owns (owned via a stable hash, inside the operator — never
	// by omitting the operator on some workers). resumeState is the
	// previously-serialized state for this step, or nil on a fresh start.
	Build(ctx context.Context, p PartitionedSourceParams) (PartitionedReader, error)
}

// PartitionedSourceParams carries the identity arguments every
// PartitionedSource.Build call receives, matching the teacher's style of
// passing a single params struct rather than a long positional arg list
// once the argument count grows past a handful (see bigmachineExecutor.Run's
// taskRunRequest).
type PartitionedSourceParams struct {
	StepID       id.StepID
	WorkerIndex  id.WorkerIndex
	WorkerCount  id.WorkerCount
	ResumeEpoch  id.Epoch
	ResumeState  []byte
	EpochMillis  int64
}

// PartitionedReader yields records for the partitions this worker owns
// and reports a state snapshot suitable for persisting on epoch close.
type PartitionedReader interface {
	// Next returns the next record, or ok=false once this worker's
	// partitions have retired (no more input will ever arrive).
	Next(ctx context.Context) (rec Record, ok bool, err error)
	// Snapshot serializes this reader's resume position. Called on every
	// epoch close by the recovery attach machinery.
	Snapshot() ([]byte, error)
	Close() error
}

// Dynamic sources are instantiated fresh on every worker with no
// partition semantics and do not participate in recovery.
type DynamicSource interface {
	Source
	Build(ctx context.Context, p DynamicSourceParams) (DynamicReader, error)
}

// DynamicSourceParams carries the identity arguments for a dynamic
// source build call (no resume state: dynamic sources never persist).
type DynamicSourceParams struct {
	StepID      id.StepID
	WorkerIndex id.WorkerIndex
	WorkerCount id.WorkerCount
	ResumeEpoch id.Epoch
	EpochMillis int64
}

// DynamicReader yields records with no resume contract.
type DynamicReader interface {
	Next(ctx context.Context) (rec Record, ok bool, err error)
	Close() error
}
