package compiler

import (
	"context"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
	"github.com/fluxrun/fluxrun/internal/id"
)

// unwrapSingletonState reverses the wrapping internal/runner applies to
// every step's replayed state (compiler.EncodeStateMap, a
// map[string][]byte keyed by logical key): a source or sink reader's own
// Snapshot blob is stored under the empty logical key, since it isn't
// keyed by anything else. raw == nil (a fresh step) returns nil, nil.
func unwrapSingletonState(raw []byte) ([]byte, error) {
	if raw == nil {
		return nil, nil
	}
	m, err := decodeStateMap(raw)
	if err != nil {
		return nil, err
	}
	return m[""], nil
}

// inputAdapter normalizes PartitionedReader and DynamicReader behind one
// shape the scheduler drives, the same flattening
// PartitionedSourceParams/DynamicSourceParams already do for Build calls.
type inputAdapter struct {
	stepID  id.StepID
	next    func(ctx context.Context) (dataflow.Record, bool, error)
	snap    func() ([]byte, error)
	closeFn func() error
}

func buildInput(ctx context.Context, step dataflow.Input, p Params) (*inputAdapter, error) {
	switch src := step.Source.(type) {
	case dataflow.PartitionedSource:
		resumeState, err := unwrapSingletonState(p.ResumeState.Remove(step.ID))
		if err != nil {
			return nil, fluxerrors.E(fluxerrors.Build, string(step.ID), err)
		}
		r, err := src.Build(ctx, dataflow.PartitionedSourceParams{
			StepID:      step.ID,
			WorkerIndex: p.Worker,
			WorkerCount: p.WorkerCount,
			ResumeEpoch: p.ResumeEpoch,
			ResumeState: resumeState,
			EpochMillis: p.EpochMillis,
		})
		if err != nil {
			return nil, fluxerrors.E(fluxerrors.Build, string(step.ID), err)
		}
		return &inputAdapter{stepID: step.ID, next: r.Next, snap: r.Snapshot, closeFn: r.Close}, nil
	case dataflow.DynamicSource:
		r, err := src.Build(ctx, dataflow.DynamicSourceParams{
			StepID:      step.ID,
			WorkerIndex: p.Worker,
			WorkerCount: p.WorkerCount,
			ResumeEpoch: p.ResumeEpoch,
			EpochMillis: p.EpochMillis,
		})
		if err != nil {
			return nil, fluxerrors.E(fluxerrors.Build, string(step.ID), err)
		}
		return &inputAdapter{
			stepID:  step.ID,
			next:    r.Next,
			snap:    func() ([]byte, error) { return nil, nil },
			closeFn: r.Close,
		}, nil
	default:
		return nil, fluxerrors.Errorf(fluxerrors.Config, string(step.ID), "Input source must be Partitioned or Dynamic, got %T", step.Source)
	}
}

// outputAdapter normalizes PartitionedWriter and DynamicWriter.
type outputAdapter struct {
	stepID  id.StepID
	write   func(ctx context.Context, rec dataflow.Record) error
	snap    func() ([]byte, error)
	closeFn func() error
}

func buildOutput(ctx context.Context, step dataflow.Output, p Params) (*outputAdapter, error) {
	switch sink := step.Sink.(type) {
	case dataflow.PartitionedSink:
		resumeState, err := unwrapSingletonState(p.ResumeState.Remove(step.ID))
		if err != nil {
			return nil, fluxerrors.E(fluxerrors.Build, string(step.ID), err)
		}
		w, err := sink.Build(ctx, dataflow.PartitionedSinkParams{
			StepID:      step.ID,
			WorkerIndex: p.Worker,
			WorkerCount: p.WorkerCount,
			ResumeState: resumeState,
		})
		if err != nil {
			return nil, fluxerrors.E(fluxerrors.Build, string(step.ID), err)
		}
		return &outputAdapter{stepID: step.ID, write: w.Write, snap: w.Snapshot, closeFn: w.Close}, nil
	case dataflow.DynamicSink:
		w, err := sink.Build(ctx, dataflow.DynamicSinkParams{
			StepID:      step.ID,
			WorkerIndex: p.Worker,
			WorkerCount: p.WorkerCount,
		})
		if err != nil {
			return nil, fluxerrors.E(fluxerrors.Build, string(step.ID), err)
		}
		return &outputAdapter{
			stepID:  step.ID,
			write:   w.Write,
			snap:    func() ([]byte, error) { return nil, nil },
			closeFn: w.Close,
		}, nil
	default:
		return nil, fluxerrors.Errorf(fluxerrors.Config, string(step.ID), "Output sink must be Partitioned or Dynamic, got %T", step.Sink)
	}
}
