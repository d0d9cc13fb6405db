// Package driver implements the Single-Process and Multi-Process Drivers
// (spec.md §4.F/G): turning a compiled Blueprint, a recovery Store and a
// worker count into a running cluster, either as goroutines sharing one
// process or as separate OS processes/machines coordinated over a
// Fabric. Grounded on the teacher's bigmachineExecutor.Start, which plays
// the same "bring up every worker, join on the first failure" role for a
// batch task graph (exec/bigmachine.go).
package driver

import (
	"context"
	"fmt"

	"github.com/grailbio/base/status"
	"golang.org/x/sync/errgroup"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/store"
	"github.com/fluxrun/fluxrun/internal/runner"
)

// Config carries everything every worker in a cluster needs in common.
// Single-process and multi-process drivers both build one Config and
// differ only in how many OS processes they spread cfg.WorkerCount's
// runner.Run calls across.
type Config struct {
	Blueprint   *dataflow.Blueprint
	WorkerCount id.WorkerCount
	Generation  id.Generation
	Store       store.Store
	EpochMillis int64
	// Status, if set, receives every worker's "epoch N, frontier F" line,
	// the same status.Group the teacher's Eval hands its own per-task
	// status lines to.
	Status *status.Group
}

func (c Config) validate() error {
	if c.WorkerCount <= 0 {
		return fluxerrors.Errorf(fluxerrors.Config, "", "worker count must be positive, got %d", c.WorkerCount)
	}
	if c.Blueprint == nil {
		return fluxerrors.Errorf(fluxerrors.Config, "", "blueprint must not be nil")
	}
	return nil
}

// RunSingleProcess runs every worker in cfg.WorkerCount as a goroutine of
// the calling process, sharing cfg.Store directly (no fabric, no RPC —
// the symmetric-graph fingerprint check in Exchange is pointless when
// every worker shares memory, so RunSingleProcess skips it and relies on
// compiler.Compile's construction-time guarantee alone). It returns once
// every worker has exited, joining on the first error exactly as
// bigmachineExecutor.Start's callers join on its Session.
func RunSingleProcess(ctx context.Context, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	// routers gives every worker goroutine a channel to the others,
	// which is what makes Reduce/StatefulMap/window operators correct
	// once WorkerCount > 1 (spec.md:88): each worker reads its own input
	// partition but a hash-routed record belonging to another worker's
	// key is forwarded there instead of accumulated locally.
	routers := newRouterSet(cfg.WorkerCount)
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range cfg.WorkerCount.Iter() {
		w := w
		// Each worker gets its own InitGuard (or none): RunSingleProcess
		// calls runner.Run exactly once per worker, so the write is
		// already naturally once-per-worker without a shared guard — a
		// guard shared across workers would wrongly suppress every
		// worker's init write but the first, since once.Task guards one
		// Do call total, not one per distinct caller.
		g.Go(func() error {
			err := runner.Run(gctx, runner.Config{
				Blueprint:   cfg.Blueprint,
				Worker:      w,
				WorkerCount: cfg.WorkerCount,
				Generation:  cfg.Generation,
				Store:       cfg.Store,
				EpochMillis: cfg.EpochMillis,
				SpanName:    fmt.Sprintf("fluxrun.worker.%d", int(w)),
				Status:      cfg.Status,
				Router:      routers.router(w),
			})
			if err != nil {
				return fmt.Errorf("driver: %s: %w", w, err)
			}
			return nil
		})
	}
	return g.Wait()
}
