// Package recovery implements the Recovery Attach component (spec.md
// §4.C): given the compiler's concatenated state-change and output-ack
// streams, it wires a progress observer, a state observer, and garbage
// collection. Grounded on the teacher's combiner-commit bookkeeping in
// exec/bigmachine.go, generalized from "commit this worker's shared
// combine buffer" to "durably persist this operator's per-key state on
// every epoch close."
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/grailbio/base/limiter"
	grlog "github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"

	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
	"github.com/fluxrun/fluxrun/internal/recovery/store"
	"github.com/fluxrun/fluxrun/internal/recovery/store/inmem"
)

// StateChange is one operator's state-snapshot event, emitted on every
// epoch close by a stateful stage and fanned into the compiler's
// concatenated step-changes stream (spec.md §4.D invariant 3).
type StateChange struct {
	Step   id.StepID
	Key    string
	Value  []byte
	Delete bool
}

// writeRetryPolicy mirrors the teacher's retryPolicy (exec/bigmachine.go)
// for transient recovery-store write failures.
var writeRetryPolicy = retry.Backoff(100*time.Millisecond, 2*time.Second, 1.5)

// commitConcurrency bounds how many state writes may be in flight at
// once per worker, the streaming analogue of the teacher's
// commitLimiter bounding concurrent combiner commits.
const commitConcurrency = 8

// Attach wires the recovery observers for one worker. It starts a state
// observer and a progress observer on their own goroutines and returns at
// once. Each observer runs until ctx is canceled or its input channel is
// closed; the state observer also waits for its in-flight writes when
// its channel closes. The returned channel receives each observer's
// result and is closed once both have exited.
//
// worker is this worker's identity; resumeEpoch is the epoch recovery
// replay decided we must re-derive from (the observers do not read it);
// mirror is the in-process progress mirror every worker keeps regardless
// of the durable backend; s is the durable backend; stateChanges and
// frontierAdvances are the compiler's concatenated streams.
func Attach(
	ctx context.Context,
	worker id.WorkerKey,
	resumeEpoch id.Epoch,
	mirror *inmem.Mirror,
	s store.Store,
	stateChanges <-chan StateChange,
	frontierAdvances <-chan id.Epoch,
) <-chan error {
	errc := make(chan error, 2)
	lim := limiter.New()
	lim.Release(commitConcurrency)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- observeState(ctx, s, lim, stateChanges)
	}()
	go func() {
		defer wg.Done()
		errc <- observeProgress(ctx, worker, mirror, s, frontierAdvances)
	}()
	go func() {
		wg.Wait()
		close(errc)
	}()
	return errc
}

func observeState(ctx context.Context, s store.Store, lim *limiter.Limiter, changes <-chan StateChange) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				// Holding every token means no write is still in flight.
				_ = lim.Acquire(ctx, commitConcurrency)
				return nil
			}
			if err := lim.Acquire(ctx, 1); err != nil {
				return err
			}
			change := c
			go func() {
				defer lim.Release(1)
				entry := model.StateEntry{Key: model.StateKey{Step: change.Step, Key: change.Key}}
				if change.Delete {
					entry.Change = model.DeleteChange[[]byte]()
				} else {
					entry.Change = model.UpsertChange(change.Value)
				}
				if err := writeWithRetry(ctx, func() error { return s.WriteState(ctx, entry) }); err != nil {
					grlog.Error.Printf("recovery: write state for step %s failed: %v", change.Step, err)
				}
			}()
		}
	}
}

func observeProgress(ctx context.Context, worker id.WorkerKey, mirror *inmem.Mirror, s store.Store, frontiers <-chan id.Epoch) error {
	var lastGC id.Epoch
	for {
		select {
		case <-ctx.Done():
			return nil
		case epoch, ok := <-frontiers:
			if !ok {
				return nil
			}
			entry := model.ProgressEntry{Worker: worker, Change: model.UpsertChange(model.FrontierMsg(epoch))}
			mirror.Write(entry)
			if err := writeWithRetry(ctx, func() error { return s.WriteProgress(ctx, entry) }); err != nil {
				grlog.Error.Printf("recovery: write progress frontier %d failed: %v", epoch, err)
				continue
			}
			// Garbage collect periodically, not on every advance, so we
			// don't hammer the backend with a DELETE per epoch.
			if epoch > lastGC+10 || epoch == id.Closed {
				if err := s.GarbageCollect(ctx, store.Summary{MinFrontier: epoch}); err != nil {
					grlog.Error.Printf("recovery: garbage collect at frontier %d failed: %v", epoch, err)
				}
				lastGC = epoch
			}
		}
	}
}

func writeWithRetry(ctx context.Context, write func() error) error {
	var retries int
	for {
		err := write()
		if err == nil {
			return nil
		}
		retries++
		if werr := retry.Wait(ctx, writeRetryPolicy, retries); werr != nil {
			return err
		}
	}
}

// WriteInit writes the once-per-generation Init progress entry a worker
// emits before scope construction (spec.md §4.D "Write initial
// progress"), to both the in-memory mirror and the durable writer.
func WriteInit(ctx context.Context, worker id.WorkerKey, count id.WorkerCount, resumeEpoch id.Epoch, mirror *inmem.Mirror, s store.Store) error {
	entry := model.ProgressEntry{Worker: worker, Change: model.UpsertChange(model.InitMsg(count, resumeEpoch))}
	mirror.Write(entry)
	return s.WriteProgress(ctx, entry)
}
