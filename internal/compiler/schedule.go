package compiler

import (
	"context"
	"fmt"
	"time"

	grlog "github.com/grailbio/base/log"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery"
)

// Run drives the compiled graph until the input retires or ctx is
// canceled, whichever comes first. It is the Go rendering of the
// teacher's Eval state machine (exec/eval.go): a single select loop over
// "more input available" and "shutdown requested," except fluxrun has no
// task DAG to schedule across goroutines — one worker's Blueprint is a
// straight-line chain, so the loop below is the entire scheduler.
//
// The returned channels are fed to recovery.Attach by the worker runner:
// stateChanges carries every stage's per-epoch state-change snapshot
// (including the input/output adapters' own resume blobs, reported under
// their step ids), frontiers carries each epoch's close, in order, ending
// with id.Closed once the input has retired and every stage has been
// given a final flush.
func (g *Graph) Run(ctx context.Context) (stateChanges <-chan recovery.StateChange, frontiers <-chan id.Epoch, errc <-chan error) {
	changesCh := make(chan recovery.StateChange, 64)
	frontiersCh := make(chan id.Epoch, 8)
	errCh := make(chan error, 1)

	go func() {
		defer close(changesCh)
		defer close(frontiersCh)
		defer close(errCh)
		errCh <- g.run(ctx, changesCh, frontiersCh)
	}()

	return changesCh, frontiersCh, errCh
}

// inputMsg is one item off the background reader goroutine below: either
// a record or a terminal error. The goroutine signals that the input has
// retired by closing the channel.
type inputMsg struct {
	rec dataflow.Record
	err error
}

func (g *Graph) run(ctx context.Context, changes chan<- recovery.StateChange, frontiers chan<- id.Epoch) error {
	interval := time.Duration(g.epochMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	recordsCh := make(chan inputMsg)
	go func() {
		defer close(recordsCh)
		for {
			rec, ok, err := g.input.next(readCtx)
			if err != nil {
				recordsCh <- inputMsg{err: err}
				return
			}
			if !ok {
				return
			}
			select {
			case recordsCh <- inputMsg{rec: rec}:
			case <-readCtx.Done():
				return
			}
		}
	}()

	// routedCh is left nil (blocks forever in the select below) unless
	// this worker has a Router, which is how a single-worker run and
	// every existing test keep behaving exactly as before routing
	// existed — a nil channel in a select case is simply never ready.
	var routedCh <-chan RoutedRecord
	if g.router != nil {
		routedCh = g.router.Inbound()
	}

	epoch := g.startEpoch
	for {
		select {
		case <-ctx.Done():
			return g.closeAll(ctx, epoch, changes, frontiers, ctx.Err())
		case rr, ok := <-routedCh:
			if !ok {
				routedCh = nil
				continue
			}
			if err := g.admitRouted(ctx, rr); err != nil {
				return g.closeAll(ctx, epoch, changes, frontiers, err)
			}
		case <-ticker.C:
			if err := g.flushEpoch(ctx, epoch, changes); err != nil {
				return g.closeAll(ctx, epoch, changes, frontiers, err)
			}
			select {
			case frontiers <- epoch:
				g.broadcast()
			case <-ctx.Done():
				return g.closeAll(ctx, epoch, changes, frontiers, ctx.Err())
			}
			epoch++
		case msg, ok := <-recordsCh:
			if !ok {
				if err := g.quiesceRouting(ctx, routedCh); err != nil {
					return g.closeAll(ctx, epoch, changes, frontiers, err)
				}
				return g.closeAll(ctx, epoch, changes, frontiers, nil)
			}
			if msg.err != nil {
				return g.closeAll(ctx, epoch, changes, frontiers, msg.err)
			}
			rec := msg.rec
			rec.Epoch = epoch
			if err := g.admit(ctx, rec); err != nil {
				return g.closeAll(ctx, epoch, changes, frontiers, err)
			}
		}
	}
}

// admit pushes one input record through every middle stage in order and,
// for every record the chain still produces, writes it to the output.
func (g *Graph) admit(ctx context.Context, rec dataflow.Record) error {
	pending := []dataflow.Record{rec}
	for _, stage := range g.stages {
		var next []dataflow.Record
		for _, r := range pending {
			outs, err := stage.Process(ctx, r)
			if err != nil {
				return err
			}
			next = append(next, outs...)
		}
		pending = next
	}
	for _, r := range pending {
		if err := g.output.write(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// quiesceRouting is called once this worker's own input retires. It
// keeps draining routedCh while Router.Quiesce blocks in the
// background, so a worker that runs out of input early does not close
// (and stop reading routedCh) while a slower peer still has records to
// route to it; it returns once every worker has reached this point.
// A no-op when g.router is nil.
func (g *Graph) quiesceRouting(ctx context.Context, routedCh <-chan RoutedRecord) error {
	if g.router == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- g.router.Quiesce(ctx) }()
	for {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			// Every peer has quiesced, so nothing new will be routed here;
			// admit whatever is still buffered in routedCh before closing.
			for {
				select {
				case rr, ok := <-routedCh:
					if !ok {
						return nil
					}
					if err := g.admitRouted(ctx, rr); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case rr, ok := <-routedCh:
			if !ok {
				continue
			}
			if err := g.admitRouted(ctx, rr); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// admitRouted applies a record a peer worker forwarded to us because we
// own its key, resuming the chain at the routed stage itself (whose
// routedStage.Process will find owner == self this time and apply it
// locally) rather than from the start of g.stages.
func (g *Graph) admitRouted(ctx context.Context, rr RoutedRecord) error {
	idx, ok := g.routeIndex[rr.StepID]
	if !ok {
		return fmt.Errorf("compiler: routed record for unknown step %s", rr.StepID)
	}
	outs, err := g.stages[idx].Process(ctx, rr.Record)
	if err != nil {
		return err
	}
	return g.drainThrough(ctx, g.stages[idx+1:], outs)
}

// flushEpoch closes epoch across every stage in order, feeding any
// records a window-based stage emits on close through the remainder of
// the chain exactly like admit does, then reports the input/output
// adapters' own resume blobs as state changes under their step ids.
func (g *Graph) flushEpoch(ctx context.Context, epoch id.Epoch, changes chan<- recovery.StateChange) error {
	for i, stage := range g.stages {
		recs, stageChanges, err := stage.Flush(ctx, epoch)
		if err != nil {
			return err
		}
		if err := g.drainThrough(ctx, g.stages[i+1:], recs); err != nil {
			return err
		}
		for _, c := range stageChanges {
			changes <- c
		}
	}
	if snap, err := g.input.snap(); err != nil {
		return err
	} else if snap != nil {
		changes <- recovery.StateChange{Step: g.input.stepID, Key: "", Value: snap}
	}
	if snap, err := g.output.snap(); err != nil {
		return err
	} else if snap != nil {
		changes <- recovery.StateChange{Step: g.output.stepID, Key: "", Value: snap}
	}
	return nil
}

func (g *Graph) drainThrough(ctx context.Context, rest []Stage, recs []dataflow.Record) error {
	pending := recs
	for _, stage := range rest {
		var next []dataflow.Record
		for _, r := range pending {
			outs, err := stage.Process(ctx, r)
			if err != nil {
				return err
			}
			next = append(next, outs...)
		}
		pending = next
	}
	for _, r := range pending {
		if err := g.output.write(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) closeAll(ctx context.Context, epoch id.Epoch, changes chan<- recovery.StateChange, frontiers chan<- id.Epoch, cause error) error {
	if cause == nil {
		if err := g.flushEpoch(ctx, epoch, changes); err != nil {
			cause = err
		} else {
			frontiers <- id.Closed
		}
	}
	g.broadcast()
	if err := g.input.closeFn(); err != nil {
		grlog.Error.Printf("compiler: closing input %s: %v", g.input.stepID, err)
	}
	if err := g.output.closeFn(); err != nil {
		grlog.Error.Printf("compiler: closing output %s: %v", g.output.stepID, err)
	}
	return cause
}
