package driver

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"
	"github.com/grailbio/bigmachine"

	"github.com/fluxrun/fluxrun/internal/compiler"
	"github.com/fluxrun/fluxrun/internal/id"
)

// Fabric exchanges one compiled Graph fingerprint per worker among every
// worker in a generation before any record is admitted, the concrete
// mechanism behind the GraphFingerprint symmetry check recovered from
// original_source (SPEC_FULL.md §7): two workers whose fingerprints
// disagree mean the blueprint compiled to a different step sequence on
// each, which must never happen (spec.md §4.D invariant 1), so
// RunMultiProcess treats a mismatch as a ConfigError before the cluster
// ever exchanges a single dataflow record.
//
// inProcessFabric is used when RunMultiProcess is given no peer
// addresses (every worker is a goroutine of the same binary, e.g. a
// local multi-"process" simulation or a test). bigmachineFabric is used
// otherwise, over real TCP peers — a thin bigmachine-style abstraction
// (SPEC_FULL.md §5) built on the teacher's own bigmachine.B/Machine.Call
// RPC idiom (exec/bigmachine.go), retargeted from "dispatch a batch task"
// to "exchange one fingerprint string per worker pair."
type Fabric interface {
	// Exchange publishes fingerprint under self and blocks until every
	// worker in the generation has published its own, returning the full
	// set keyed by worker index.
	Exchange(ctx context.Context, self id.WorkerIndex, fingerprint string) (map[id.WorkerIndex]string, error)
	Close() error
}

// inProcessFabric is a rendezvous barrier: every worker blocks in
// Exchange until WorkerCount distinct fingerprints have been published,
// then every blocked caller wakes with the full set. Grounded on the
// same ctxsync.Cond wake-on-progress idiom compiler.Graph uses
// (exec/bigmachine.go's worker.cond), here guarding a barrier instead of
// an epoch frontier.
type inProcessFabric struct {
	mu     sync.Mutex
	cond   *ctxsync.Cond
	count  int
	got    map[id.WorkerIndex]string
	routes *routerSet
}

func newInProcessFabric(count id.WorkerCount) *inProcessFabric {
	f := &inProcessFabric{count: int(count), got: make(map[id.WorkerIndex]string), routes: newRouterSet(count)}
	f.cond = ctxsync.NewCond(&f.mu)
	return f
}

// RouterFor returns self's view of this fabric's shared data-plane
// channels, letting an in-process RunMultiProcess simulation hash-route
// stateful records between its worker goroutines the same way a real
// cluster does over RPC (bigmachineFabric below).
func (f *inProcessFabric) RouterFor(self id.WorkerIndex) compiler.Router {
	return f.routes.router(self)
}

func (f *inProcessFabric) Exchange(ctx context.Context, self id.WorkerIndex, fingerprint string) (map[id.WorkerIndex]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got[self] = fingerprint
	f.cond.Broadcast()
	for len(f.got) < f.count {
		if err := f.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
	out := make(map[id.WorkerIndex]string, len(f.got))
	for k, v := range f.got {
		out[k] = v
	}
	return out, nil
}

func (f *inProcessFabric) Close() error { return nil }

func init() {
	gob.Register(&fabricService{})
	gob.Register(compiler.RoutedRecord{})
}

// fabricService is the RPC service a bigmachineFabric registers with
// bigmachine on this machine, mirroring how the teacher registers its own
// worker service for remote dispatch (gob.Register(&worker{}),
// exec/bigmachine.go). Besides the fingerprint check, it also carries
// the data-plane hop for hash-routed records (spec.md:88): Route is
// invoked by a peer that read a record belonging to one of this
// machine's keys, the bigmachine-RPC counterpart of workerRouter's
// local channel send.
type fabricService struct {
	mu          sync.Mutex
	fingerprint string
	inbound     chan compiler.RoutedRecord
}

// Init satisfies bigmachine's service-registration contract; fabricService
// keeps no bigmachine.B-derived state, unlike the teacher's own
// worker.Init, which dials back dependency machines.
func (s *fabricService) Init(b *bigmachine.B) error { return nil }

// Fingerprint is invoked by peers as "fabricService.Fingerprint" via
// Machine.Call, the same RPC shape the teacher uses for
// "Worker.Stat"/"Worker.Read" (exec/bigmachine.go).
func (s *fabricService) Fingerprint(ctx context.Context, _ struct{}, reply *string) error {
	s.mu.Lock()
	*reply = s.fingerprint
	s.mu.Unlock()
	return nil
}

// Route is invoked by a peer as "fabricService.Route" to deliver one
// RoutedRecord this machine owns the key for; it blocks until the local
// Graph.run loop drains it off s.inbound or ctx is canceled.
func (s *fabricService) Route(ctx context.Context, rr compiler.RoutedRecord, _ *struct{}) error {
	select {
	case s.inbound <- rr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fabricService) set(fingerprint string) {
	s.mu.Lock()
	s.fingerprint = fingerprint
	s.mu.Unlock()
}

// bigmachineFabric dials every peer address once and calls
// "fabricService.Fingerprint" on each, the cluster-fabric counterpart of
// inProcessFabric. peers must list every OTHER worker's bigmachine
// address in the generation (this worker's own index is never dialed).
// It also implements compiler.Router, caching the same dialed Machine
// handles Exchange already produced so Route never redials.
type bigmachineFabric struct {
	b       *bigmachine.B
	service *fabricService
	peers   map[id.WorkerIndex]string

	mu       sync.Mutex
	machines map[id.WorkerIndex]*bigmachine.Machine
}

// newBigmachineFabric starts bigmachine over system (a real cluster
// system, e.g. an EC2 or Kubernetes bigmachine.System the caller
// configures — fluxrun itself names no concrete System, the same way
// newBigmachineExecutor takes one as a parameter rather than hardcoding
// it) and registers this worker's fabricService on it.
func newBigmachineFabric(system bigmachine.System, peers map[id.WorkerIndex]string, params ...bigmachine.Param) *bigmachineFabric {
	b := bigmachine.Start(system, params...)
	service := &fabricService{inbound: make(chan compiler.RoutedRecord, 256)}
	return &bigmachineFabric{b: b, service: service, peers: peers, machines: make(map[id.WorkerIndex]*bigmachine.Machine)}
}

func (f *bigmachineFabric) Exchange(ctx context.Context, self id.WorkerIndex, fingerprint string) (map[id.WorkerIndex]string, error) {
	f.service.set(fingerprint)
	out := map[id.WorkerIndex]string{self: fingerprint}
	for idx, addr := range f.peers {
		machine, err := f.b.Dial(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("driver: dialing %s at %s: %w", idx, addr, err)
		}
		var reply string
		if err := machine.Call(ctx, "fabricService.Fingerprint", struct{}{}, &reply); err != nil {
			return nil, fmt.Errorf("driver: fetching fingerprint from %s: %w", idx, err)
		}
		out[idx] = reply
		f.mu.Lock()
		f.machines[idx] = machine
		f.mu.Unlock()
	}
	return out, nil
}

// Route delivers rr to worker to over the Machine Exchange already
// dialed, or directly onto this machine's own inbound channel when to
// is this worker itself (e.g. a key that happens to hash to its own
// reader).
func (f *bigmachineFabric) Route(ctx context.Context, to id.WorkerIndex, rr compiler.RoutedRecord) error {
	f.mu.Lock()
	machine, ok := f.machines[to]
	f.mu.Unlock()
	if !ok {
		select {
		case f.service.inbound <- rr:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return machine.Call(ctx, "fabricService.Route", rr, new(struct{}))
}

func (f *bigmachineFabric) Inbound() <-chan compiler.RoutedRecord {
	return f.service.inbound
}

// Quiesce is a no-op over a real bigmachine cluster: unlike
// workerRouter's in-process barrier (driver/router.go), there is no
// cheap rendezvous point here to block on before a worker with an
// empty partition assumes it is safe to stop draining Inbound. A
// worker whose input retires well before a slower peer's can in
// principle miss a late-arriving routed record in this configuration;
// closing the gap needs a real quiescence protocol over the fabric
// (e.g. a counted handshake like Exchange's), left for when fluxrun
// grows a true multi-machine deployment to validate against.
func (f *bigmachineFabric) Quiesce(ctx context.Context) error { return nil }

func (f *bigmachineFabric) Close() error {
	f.b.Shutdown()
	return nil
}
