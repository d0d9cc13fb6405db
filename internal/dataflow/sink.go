package dataflow

import (
	"context"

	"github.com/fluxrun/fluxrun/internal/id"
)

// Sink is the closed set of output shapes a blueprint's Output step may
// declare.
type Sink interface {
	isSink()
}

// PartitionedSink owns a fixed set of keyed partitions and participates
// in recovery.
type PartitionedSink interface {
	Sink
	Build(ctx context.Context, p PartitionedSinkParams) (PartitionedWriter, error)
}

// PartitionedSinkParams mirrors PartitionedSourceParams for outputs.
type PartitionedSinkParams struct {
	StepID      id.StepID
	WorkerIndex id.WorkerIndex
	WorkerCount id.WorkerCount
	ResumeState []byte
}

// PartitionedWriter accepts records and snapshots its own resume state on
// every epoch close. Write reports only an error; the output frontier
// comes from the compiler's epoch ticker, not from per-record acks.
type PartitionedWriter interface {
	Write(ctx context.Context, rec Record) error
	// Snapshot serializes this writer's state for persistence on epoch
	// close, e.g. an idempotence dedup window.
	Snapshot() ([]byte, error)
	Close() error
}

// DynamicSink is instantiated fresh per worker with no recovery
// participation.
type DynamicSink interface {
	Sink
	Build(ctx context.Context, p DynamicSinkParams) (DynamicWriter, error)
}

// DynamicSinkParams mirrors DynamicSourceParams for outputs.
type DynamicSinkParams struct {
	StepID      id.StepID
	WorkerIndex id.WorkerIndex
	WorkerCount id.WorkerCount
}

// DynamicWriter accepts records with no resume contract.
type DynamicWriter interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}
