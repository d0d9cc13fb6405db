package driver

import (
	"context"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"

	"github.com/fluxrun/fluxrun/internal/compiler"
	"github.com/fluxrun/fluxrun/internal/id"
)

// routerSet is the data-plane counterpart of inProcessFabric's
// control-plane barrier: one buffered inbound channel per worker index,
// shared by every worker goroutine running in this process
// (RunSingleProcess, or an in-process RunMultiProcess simulation sharing
// one inProcessFabric). It is what actually moves a hash-routed record
// (spec.md:88) from the worker that read it off its input partition to
// the worker that owns its key, when both are goroutines of one binary.
type routerSet struct {
	inbound []chan compiler.RoutedRecord

	// mu/cond/done back Quiesce: the same rendezvous-barrier idiom
	// inProcessFabric uses for its fingerprint exchange (fabric.go),
	// here guarding "every worker's input has retired" instead of
	// "every worker has published a fingerprint."
	mu   sync.Mutex
	cond *ctxsync.Cond
	done int
}

func newRouterSet(count id.WorkerCount) *routerSet {
	rs := &routerSet{inbound: make([]chan compiler.RoutedRecord, int(count))}
	for i := range rs.inbound {
		rs.inbound[i] = make(chan compiler.RoutedRecord, 256)
	}
	rs.cond = ctxsync.NewCond(&rs.mu)
	return rs
}

func (rs *routerSet) quiesce(ctx context.Context) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.done++
	rs.cond.Broadcast()
	for rs.done < len(rs.inbound) {
		if err := rs.cond.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (rs *routerSet) router(self id.WorkerIndex) compiler.Router {
	return &workerRouter{rs: rs, self: self}
}

// workerRouter is one worker's view of a routerSet: Route can address
// any worker's channel, Inbound only ever reads this worker's own.
type workerRouter struct {
	rs   *routerSet
	self id.WorkerIndex
}

func (r *workerRouter) Route(ctx context.Context, to id.WorkerIndex, rr compiler.RoutedRecord) error {
	select {
	case r.rs.inbound[to] <- rr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *workerRouter) Inbound() <-chan compiler.RoutedRecord {
	return r.rs.inbound[r.self]
}

func (r *workerRouter) Quiesce(ctx context.Context) error {
	return r.rs.quiesce(ctx)
}
