package driver

import (
	"context"
	"fmt"
	"runtime/debug"

	grlog "github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"

	"github.com/fluxrun/fluxrun/internal/compiler"
	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/runner"
)

// MultiConfig is Config plus the one worker this process runs and the
// Fabric it exchanges fingerprints over. RunMultiProcess is called once
// per worker, for that worker's Self index: a process hosting several
// workers (internal/cli's `cluster worker` command) calls it once per
// local worker, and a supervisor (internal/supervisor) starts one such
// process per configured process.
type MultiConfig struct {
	Config
	Self   id.WorkerIndex
	Fabric Fabric
}

// RunMultiProcess verifies every worker in the generation compiled an
// identical Blueprint (the GraphFingerprint symmetry check,
// SPEC_FULL.md §7) before calling runner.Run for cfg.Self, and wraps the
// run in a recover()-based panic hook that prefixes the stack trace with
// this worker's name before re-raising as a UserError — preserved from
// original_source's std::panic::set_hook (SPEC_FULL.md §7), generalized
// from "print to the process's own stderr" to "report through this
// process's own logger," since in Go panic hooks are not process-global.
func RunMultiProcess(ctx context.Context, cfg MultiConfig) (err error) {
	if err := cfg.validate(); err != nil {
		return err
	}
	if !cfg.WorkerCount.Valid(cfg.Self) {
		return fluxerrors.Errorf(fluxerrors.Config, "", "worker index %s out of range for worker count %d", cfg.Self, cfg.WorkerCount)
	}

	local := compiler.Fingerprint(cfg.Blueprint)
	all, err := cfg.Fabric.Exchange(ctx, cfg.Self, local)
	if err != nil {
		return fmt.Errorf("driver: %s: exchanging graph fingerprint: %w", cfg.Self, err)
	}
	for idx, fp := range all {
		if fp != local {
			return fluxerrors.Errorf(fluxerrors.Config, "",
				"%s compiled fingerprint %s but %s compiled %s: blueprint is not symmetric across workers", cfg.Self, local, idx, fp)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			grlog.Error.Printf("%s: panic: %v\n%s", cfg.Self, r, debug.Stack())
			err = fluxerrors.Errorf(fluxerrors.User, "", "%s: panic: %v", cfg.Self, r)
		}
	}()

	// The same Fabric a generation exchanges fingerprints over also
	// carries the hash-routed data-plane hop (spec.md:88): inProcessFabric
	// exposes it through RouterFor (it has no fixed "self" of its own,
	// being shared by every in-process worker goroutine), while
	// bigmachineFabric, one per worker process, implements compiler.Router
	// directly.
	var router compiler.Router
	switch f := cfg.Fabric.(type) {
	case *inProcessFabric:
		router = f.RouterFor(cfg.Self)
	case compiler.Router:
		router = f
	}

	err = runner.Run(ctx, runner.Config{
		Blueprint:   cfg.Blueprint,
		Worker:      cfg.Self,
		WorkerCount: cfg.WorkerCount,
		Generation:  cfg.Generation,
		Store:       cfg.Store,
		EpochMillis: cfg.EpochMillis,
		SpanName:    fmt.Sprintf("fluxrun.worker.%d", int(cfg.Self)),
		Status:      cfg.Status,
		Router:      router,
	})
	if err != nil {
		return fmt.Errorf("driver: %s: %w", cfg.Self, err)
	}
	return nil
}

// NewInProcessFabric builds a Fabric for a multi-process simulation run
// entirely as goroutines of one binary (RunMultiProcess called once per
// worker, concurrently, all sharing this Fabric value) — useful for
// local testing of the symmetry check without standing up real machines.
func NewInProcessFabric(count id.WorkerCount) Fabric {
	return newInProcessFabric(count)
}

// NewClusterFabric builds a Fabric backed by a real bigmachine cluster:
// system chooses the deployment (EC2, Kubernetes, ...), peers names every
// OTHER worker's dial address.
func NewClusterFabric(system bigmachine.System, peers map[id.WorkerIndex]string, params ...bigmachine.Param) Fabric {
	return newBigmachineFabric(system, peers, params...)
}
