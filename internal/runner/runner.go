// Package runner implements the Worker Runner (spec.md §4.E): the
// per-process driver that resolves recovery config, replays progress and
// state, invokes the compiler, drives the scheduler, and attaches
// recovery observers — the worker-side counterpart of the teacher's own
// bigmachineExecutor.Run, generalized from "run one bigslice task" to
// "run this worker's entire compiled dataflow chain for the life of the
// process."
package runner

import (
	"context"
	"fmt"
	"time"

	grlog "github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/sync/once"
	"golang.org/x/sync/errgroup"

	"github.com/fluxrun/fluxrun/internal/compiler"
	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
	"github.com/fluxrun/fluxrun/internal/recovery/store"
	"github.com/fluxrun/fluxrun/internal/recovery/store/inmem"
	"github.com/fluxrun/fluxrun/internal/telemetry"
)

// Config carries everything one worker process needs to run a Blueprint
// to completion.
type Config struct {
	Blueprint   *dataflow.Blueprint
	Worker      id.WorkerIndex
	WorkerCount id.WorkerCount
	Generation  id.Generation
	Store       store.Store
	EpochMillis int64
	// SpanName identifies this worker's periodic tracing span; defaults
	// to "fluxrun.worker" if empty.
	SpanName string
	// InitGuard, if set, makes the once-per-generation Init progress
	// write idempotent across repeated Run calls sharing this Config
	// (e.g. a supervisor restarting a crashed worker in the same
	// process), the same role once.Map plays for the teacher's combiner
	// compiles. A fresh Config (the common case: a new OS process per
	// worker) can leave this nil, since the write is then naturally
	// once-per-process already.
	InitGuard *once.Task
	// Status, if set, receives one status line per epoch close
	// ("epoch N, frontier F") on a *status.Task this worker starts with
	// Status.Startf, the same group.Startf(...).Printf(...) convention
	// the teacher's Eval uses to drive one status line per task
	// (exec/eval.go: task.Status = group.Startf(...); task.Status.Printf(...)).
	Status *status.Group
	// Router, if set, hash-routes this worker's Reduce/StatefulMap/window
	// records to their owning worker cluster-wide (spec.md:88). The
	// driver package supplies it; nil is correct for WorkerCount == 1.
	Router compiler.Router
}

// Run replays recovery state, compiles cfg.Blueprint, and drives the
// resulting Graph until ctx is canceled or the input retires. It returns
// once every goroutine it started (scheduler, recovery observers) has
// exited.
func Run(ctx context.Context, cfg Config) error {
	worker := id.WorkerKey{Generation: cfg.Generation, Worker: cfg.Worker}

	progressEntries, err := cfg.Store.ReadProgress(ctx)
	if err != nil {
		return fmt.Errorf("runner: replaying progress log: %w", err)
	}
	resumeFrom := inmem.ComputeResumeFrom(progressEntries)
	if cfg.Generation == 0 {
		worker.Generation = resumeFrom.Generation
	}

	mirror := inmem.NewMirror()
	writeInit := func() error {
		return recovery.WriteInit(ctx, worker, cfg.WorkerCount, resumeFrom.ResumeEpoch, mirror, cfg.Store)
	}
	if cfg.InitGuard != nil {
		err = cfg.InitGuard.Do(writeInit)
	} else {
		err = writeInit()
	}
	if err != nil {
		return fmt.Errorf("runner: writing init progress: %w", err)
	}

	flowState, err := replayState(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("runner: replaying state log: %w", err)
	}

	metrics, err := telemetry.NewWorkerMetrics()
	if err != nil {
		return fmt.Errorf("runner: registering metrics: %w", err)
	}

	graph, err := compiler.Compile(ctx, cfg.Blueprint, compiler.Params{
		Worker:      cfg.Worker,
		WorkerCount: cfg.WorkerCount,
		Generation:  worker.Generation,
		ResumeEpoch: resumeFrom.ResumeEpoch,
		EpochMillis: cfg.EpochMillis,
		ResumeState: flowState,
		Router:      cfg.Router,
		OnLateRecord: func(step id.StepID) {
			metrics.RecordLate(ctx, 1)
			grlog.Debug.Printf("runner: %s: step %q dropped a late record", worker, step)
		},
	})
	if err != nil {
		return err
	}
	for _, orphan := range flowState.Residual() {
		grlog.Error.Printf("runner: %s: state for step %q has no corresponding blueprint step; it will never be garbage collected automatically", worker, orphan)
	}
	grlog.Printf("runner: %s: compiled graph fingerprint %s", worker, graph.Fingerprint)

	spanName := cfg.SpanName
	if spanName == "" {
		spanName = "fluxrun.worker"
	}
	epochInterval := time.Duration(cfg.EpochMillis) * time.Millisecond
	span := telemetry.NewPeriodicSpan(ctx, spanName, telemetry.SpanCadence(epochInterval))
	defer span.Close()

	stateChanges, frontiers, runErrc := graph.Run(ctx)

	// observedFrontiers fans frontier advances to both recovery.Attach
	// and the metrics/span updater below, since a channel can only be
	// received from once.
	toAttach := make(chan id.Epoch, 8)
	toMetrics := make(chan id.Epoch, 8)
	go fanOutFrontiers(frontiers, toAttach, toMetrics)

	attachErrc := recovery.Attach(ctx, worker, resumeFrom.ResumeEpoch, mirror, cfg.Store, stateChanges, toAttach)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for err := range runErrc {
			if err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for err := range attachErrc {
			if err != nil {
				return err
			}
		}
		return nil
	})
	var task *status.Task
	if cfg.Status != nil {
		task = cfg.Status.Startf("%s", worker)
		defer task.Done()
	}
	g.Go(func() error {
		return trackProgress(gctx, span, metrics, task, toMetrics)
	})
	return g.Wait()
}

func fanOutFrontiers(in <-chan id.Epoch, outs ...chan<- id.Epoch) {
	defer func() {
		for _, out := range outs {
			close(out)
		}
	}()
	for epoch := range in {
		for _, out := range outs {
			out <- epoch
		}
	}
}

func trackProgress(ctx context.Context, span *telemetry.PeriodicSpan, metrics *telemetry.WorkerMetrics, task *status.Task, frontiers <-chan id.Epoch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case epoch, ok := <-frontiers:
			if !ok {
				return nil
			}
			span.Update()
			if epoch != id.Closed {
				metrics.SetEpoch(ctx, int64(epoch))
			}
			if task != nil {
				task.Printf("epoch %d, frontier %d", epoch, epoch)
			}
		}
	}
}

// replayState groups a full StateReader replay by step id into the
// per-step map[string][]byte blobs compiler.Params.ResumeState expects,
// gob-encoding each with compiler.EncodeStateMap (spec.md §4.E step 3).
func replayState(ctx context.Context, s store.StateReader) (*model.FlowStateBytes, error) {
	entries, err := s.ReadState(ctx)
	if err != nil {
		return nil, err
	}
	byStep := make(map[id.StepID]map[string][]byte)
	for _, e := range entries {
		m, ok := byStep[e.Key.Step]
		if !ok {
			m = make(map[string][]byte)
			byStep[e.Key.Step] = m
		}
		m[e.Key.Key] = e.Change.Value
	}
	blobs := make(map[id.StepID][]byte, len(byStep))
	for step, m := range byStep {
		blob, err := compiler.EncodeStateMap(m)
		if err != nil {
			return nil, fmt.Errorf("encoding replayed state for step %q: %w", step, err)
		}
		blobs[step] = blob
	}
	return model.NewFlowStateBytes(blobs), nil
}
