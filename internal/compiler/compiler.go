// Package compiler implements the Dataflow Compiler (spec.md §4.D): given
// a Blueprint, a worker's identity, and its slice of previously-persisted
// state, it produces a runnable Graph. It is the Go stand-in for the
// teacher's own build_production_dataflow-style compilation pass, adapted
// from a Timely-dataflow-graph builder (original_source/src/execution/mod.rs)
// to a linear chain of goroutine-free Stage values driven by one
// scheduler loop per worker — Go has no Timely scheduler, so the
// "dataflow graph" here is just the Blueprint's step order, walked once.
//
// The symmetric-graph invariant (spec.md §4.D invariant 1: every worker
// must construct literally the same sequence of steps) is enforced by
// construction: Compile never branches on WorkerIndex while walking
// Steps, only inside the Input/Output builders themselves (which are
// handed the worker's identity explicitly, the same way
// PartitionedSource.Build and PartitionedSink.Build take a params struct
// rather than reading package-level worker state).
package compiler

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/operators"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
)

// Params carries everything Compile needs about this run and this
// worker's identity. One Params value, built once per generation, is
// passed unchanged to Compile on every worker, which is what makes the
// symmetric-graph invariant checkable: two workers given the same
// Blueprint and the same EpochMillis, differing only in Worker, must
// fingerprint identically (see fingerprint.go).
type Params struct {
	Worker      id.WorkerIndex
	WorkerCount id.WorkerCount
	Generation  id.Generation
	ResumeEpoch id.Epoch
	EpochMillis int64
	// ResumeState holds the per-step state blobs replayed from the
	// recovery store for this worker (spec.md §4.E step 3). Compile
	// consumes (Removes) every step id it recognizes; Residual() after
	// Compile returns reports orphaned state from renamed/removed steps.
	ResumeState *model.FlowStateBytes
	// OnLateRecord, if non-nil, is called once per record any window
	// step configured with dataflow.CountLate judges too late for any
	// open window (SPEC_FULL.md §8). internal/runner wires this to
	// telemetry.WorkerMetrics.RecordLate.
	OnLateRecord func(step id.StepID)
	// Router, if non-nil and WorkerCount > 1, hash-routes every
	// Reduce/StatefulMap/window record to its owning worker before the
	// corresponding stage ever sees it (spec.md:88). Left nil for a
	// single worker, where every key already lives on the only worker
	// there is.
	Router Router
}

// Graph is one worker's compiled, runnable dataflow: an input stage, the
// ordered chain of transform/stateful stages, and an output stage.
type Graph struct {
	StepIDs []id.StepID
	// Fingerprint hashes the compiled step order/kinds (fingerprint.go),
	// letting the multi-process driver fail fast with a ConfigError if
	// two workers' Graphs disagree before they ever exchange a record
	// (SPEC_FULL.md §7).
	Fingerprint string

	input       *inputAdapter
	stages      []Stage
	output      *outputAdapter
	epochMillis int64
	startEpoch  id.Epoch

	// router and routeIndex support the routedStage hop: router is nil
	// unless Params.Router was set, routeIndex maps a routed stage's
	// StepID to its position in stages so an inbound RoutedRecord can be
	// replayed from exactly where it left off on the sending worker.
	router     Router
	routeIndex map[id.StepID]int

	mu   sync.Mutex
	cond *ctxsync.Cond
}

// Cond is signaled on every epoch close and once more on shutdown, so a
// caller (the introspection server's /health handler, or a test) can
// block until "the frontier has moved" instead of polling Frontiers()
// results against a sleep loop. Mirrors the teacher's own worker.cond
// (exec/bigmachine.go), which wakes combiner waiters on state transitions
// rather than having them poll.
func (g *Graph) Cond() *ctxsync.Cond {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cond == nil {
		g.cond = ctxsync.NewCond(&g.mu)
	}
	return g.cond
}

func (g *Graph) broadcast() {
	g.mu.Lock()
	c := g.cond
	g.mu.Unlock()
	if c != nil {
		c.Broadcast()
	}
}

// Compile walks bp.Steps in order and builds the corresponding Graph for
// one worker. It fails with a Config error if bp does not begin with
// exactly one Input and end with exactly one Output, and with a Build
// error (annotated with the offending step id) if any clock/windower/
// source/sink builder fails.
func Compile(ctx context.Context, bp *dataflow.Blueprint, p Params) (*Graph, error) {
	if len(bp.Steps) < 2 {
		return nil, fluxerrors.Errorf(fluxerrors.Config, "", "blueprint must have at least an Input and an Output step")
	}
	input, ok := bp.Steps[0].(dataflow.Input)
	if !ok {
		return nil, fluxerrors.Errorf(fluxerrors.Config, "", "first blueprint step must be Input, got %T", bp.Steps[0])
	}
	output, ok := bp.Steps[len(bp.Steps)-1].(dataflow.Output)
	if !ok {
		return nil, fluxerrors.Errorf(fluxerrors.Config, "", "last blueprint step must be Output, got %T", bp.Steps[len(bp.Steps)-1])
	}

	g := &Graph{
		epochMillis: p.EpochMillis, startEpoch: p.ResumeEpoch, Fingerprint: Fingerprint(bp),
		router: p.Router, routeIndex: make(map[id.StepID]int),
	}
	inAdapter, err := buildInput(ctx, input, p)
	if err != nil {
		return nil, err
	}
	g.input = inAdapter
	g.StepIDs = append(g.StepIDs, input.ID)

	for i, step := range bp.Steps[1 : len(bp.Steps)-1] {
		stage, err := buildStage(step, p)
		if err != nil {
			return nil, err
		}
		g.stages = append(g.stages, stage)
		g.StepIDs = append(g.StepIDs, stage.ID())
		g.routeIndex[stage.ID()] = i
	}

	outAdapter, err := buildOutput(ctx, output, p)
	if err != nil {
		return nil, err
	}
	g.output = outAdapter
	g.StepIDs = append(g.StepIDs, output.ID)

	return g, nil
}

func buildStage(step dataflow.Step, p Params) (Stage, error) {
	switch s := step.(type) {
	case dataflow.Map:
		return newMapStage(s), nil
	case dataflow.FlatMap:
		return newFlatMapStage(s), nil
	case dataflow.Filter:
		return newFilterStage(s), nil
	case dataflow.FilterMap:
		return newFilterMapStage(s), nil
	case dataflow.Inspect:
		return newInspectStage(s), nil
	case dataflow.InspectEpoch:
		return newInspectEpochStage(s), nil
	case dataflow.Reduce:
		stage, err := buildStatefulUnary(s.ID, operators.ReduceLogic{Reducer: s.Reducer, IsComplete: s.IsComplete}.NewStatefulUnary, p)
		return maybeRoute(stage, p), err
	case dataflow.StatefulMap:
		stage, err := buildStatefulUnary(s.ID, operators.StatefulMapLogic{Builder: s.Builder, Mapper: s.Mapper}.NewStatefulUnary, p)
		return maybeRoute(stage, p), err
	case dataflow.CollectWindow:
		stage, err := buildStatefulWindow(s.ID, s.Clock, s.Windower, s.LatePolicy, operators.CollectWindowLogic{}.NewStatefulWindowUnary, p)
		return maybeRoute(stage, p), err
	case dataflow.FoldWindow:
		logic := operators.FoldWindowLogic{Init: s.Init, Fold: s.Fold}
		stage, err := buildStatefulWindow(s.ID, s.Clock, s.Windower, s.LatePolicy, logic.NewStatefulWindowUnary, p)
		return maybeRoute(stage, p), err
	case dataflow.ReduceWindow:
		logic := operators.ReduceWindowLogic{Reducer: s.Reducer}
		stage, err := buildStatefulWindow(s.ID, s.Clock, s.Windower, s.LatePolicy, logic.NewStatefulWindowUnary, p)
		return maybeRoute(stage, p), err
	default:
		return nil, fluxerrors.Errorf(fluxerrors.Config, "", "unrecognized blueprint step %T", step)
	}
}

// maybeRoute wraps stage in a routedStage when this compile has a Router
// and more than one worker to route among; stage itself is returned
// unchanged for a single-worker run, where every key is already local.
// A nil stage (the error path from the caller's build*) passes through
// untouched so the caller's error still wins.
func maybeRoute(stage Stage, p Params) Stage {
	if stage == nil || p.Router == nil || p.WorkerCount <= 1 {
		return stage
	}
	return newRoutedStage(stage, p.Router, p.Worker, p.WorkerCount)
}

func keyEncode(key any) string { return fmt.Sprintf("%v", key) }

func buildStatefulUnary(stepID id.StepID, newUnary func(seed map[any]any) *operators.StatefulUnary, p Params) (Stage, error) {
	seed := make(map[any]any)
	if raw := p.ResumeState.Remove(stepID); raw != nil {
		decoded, err := decodeKeyedState(raw)
		if err != nil {
			return nil, fluxerrors.E(fluxerrors.Build, string(stepID), err)
		}
		for k, v := range decoded {
			seed[k] = v
		}
	}
	unary := newUnary(seed)
	return newStatefulUnaryStage(stepID, unary, keyEncode), nil
}

func buildStatefulWindow(
	stepID id.StepID,
	clockBuilder dataflow.ClockBuilder,
	windowerBuilder dataflow.WindowerBuilder,
	latePolicy dataflow.WindowLatePolicy,
	newUnary func(clock dataflow.Clock, windower dataflow.Windower, seed map[string]any, decodeKey func(string) (any, string), onLate func()) *operators.StatefulWindowUnary,
	p Params,
) (Stage, error) {
	clock, err := clockBuilder()
	if err != nil {
		return nil, fluxerrors.E(fluxerrors.Build, string(stepID), fmt.Errorf("building clock: %w", err))
	}
	windower, err := windowerBuilder()
	if err != nil {
		return nil, fluxerrors.E(fluxerrors.Build, string(stepID), fmt.Errorf("building windower: %w", err))
	}
	seed := make(map[string]any)
	if raw := p.ResumeState.Remove(stepID); raw != nil {
		decoded, err := decodeWindowState(raw)
		if err != nil {
			return nil, fluxerrors.E(fluxerrors.Build, string(stepID), err)
		}
		seed = decoded
	}
	var onLate func()
	if latePolicy == dataflow.CountLate && p.OnLateRecord != nil {
		onLate = func() { p.OnLateRecord(stepID) }
	}
	unary := newUnary(clock, windower, seed, decodeWindowKey, onLate)
	return newStatefulWindowStage(stepID, unary), nil
}

// decodeKeyedState and decodeWindowState unmarshal a step's resumed
// state blob into the map shapes the operators package's constructors
// expect. The recovery store persists one model.StateEntry per logical
// key rather than one blob per step, so the worker runner (not Compile)
// is responsible for assembling a single map[string][]byte per step
// (logical key -> that key's own gob-encoded accumulator) before calling
// Compile; see internal/runner. Logical keys are, by convention in this
// engine, always strings — Reduce/StatefulMap/window operators are built
// to key on a string partition/session id, never an arbitrary Go value,
// which is what lets a string survive the round trip through the state
// log's StateKey.Key field unchanged.
func decodeKeyedState(raw []byte) (map[any]any, error) {
	encoded, err := decodeStateMap(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[any]any, len(encoded))
	for k, blob := range encoded {
		v, err := gobDecode(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding state for key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func decodeWindowState(raw []byte) (map[string]any, error) {
	encoded, err := decodeStateMap(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(encoded))
	for k, blob := range encoded {
		v, err := gobDecode(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding window state for key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func decodeStateMap(raw []byte) (map[string][]byte, error) {
	v, err := gobDecode(raw)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string][]byte)
	return m, nil
}
