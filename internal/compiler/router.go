package compiler

import (
	"context"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery"
)

// RoutedRecord is one record in flight to the worker that owns its key,
// the hash-routed hop spec.md:88 and the glossary's stateful-unary entry
// require before a Reduce/StatefulMap/window accumulator ever sees it.
type RoutedRecord struct {
	StepID id.StepID
	Record dataflow.Record
}

// Router exchanges RoutedRecords between workers so a stateful stage's
// per-key state lives on exactly one owning worker cluster-wide,
// regardless of which worker's input partition a record arrived on.
// internal/driver supplies the concrete implementations: an in-process
// one for a single binary's worker goroutines, and one riding on the
// multi-process Fabric's bigmachine RPC for real clusters.
type Router interface {
	// Route delivers rr to worker to's Inbound channel. It may be called
	// with to equal to the caller's own worker (a same-worker route, the
	// common case when a key happens to hash to its own reader), which
	// implementations must handle without deadlocking.
	Route(ctx context.Context, to id.WorkerIndex, rr RoutedRecord) error
	// Inbound returns the channel this worker's routed records arrive
	// on. Graph.run drains it alongside ticks and input records.
	Inbound() <-chan RoutedRecord
	// Quiesce blocks until every worker in the generation has also
	// called Quiesce. Graph.run calls it once its own input retires, so
	// a worker whose partition runs dry early keeps draining Inbound
	// instead of racing a still-busy peer that has yet to route it a
	// record, and only closes once every worker agrees there is nothing
	// left to route.
	Quiesce(ctx context.Context) error
}

// routedStage wraps a stateful-unary or stateful-window stage so Process
// first checks whether this worker owns rec's key. If it does, the
// record is applied locally exactly as it would be without routing; if
// not, it is forwarded to the owning worker via Router and this call
// contributes no output, since the owner's own routedStage (reached
// through Router.Inbound, drained by Graph.run) applies it and emits
// downstream on the owner's behalf instead.
type routedStage struct {
	inner Stage
	r     Router
	self  id.WorkerIndex
	count id.WorkerCount
}

func newRoutedStage(inner Stage, r Router, self id.WorkerIndex, count id.WorkerCount) *routedStage {
	return &routedStage{inner: inner, r: r, self: self, count: count}
}

func (s *routedStage) ID() id.StepID { return s.inner.ID() }

func (s *routedStage) Process(ctx context.Context, rec dataflow.Record) ([]dataflow.Record, error) {
	kv, ok := rec.Value.(dataflow.KV)
	if !ok {
		return s.inner.Process(ctx, rec)
	}
	owner := s.count.Owner(keyEncode(kv.Key))
	if owner == s.self {
		return s.inner.Process(ctx, rec)
	}
	if err := s.r.Route(ctx, owner, RoutedRecord{StepID: s.ID(), Record: rec}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *routedStage) Flush(ctx context.Context, epoch id.Epoch) ([]dataflow.Record, []recovery.StateChange, error) {
	return s.inner.Flush(ctx, epoch)
}
