package compiler

import (
	"context"
	"fmt"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/operators"
	"github.com/fluxrun/fluxrun/internal/recovery"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
)

// Stage is one compiled blueprint step, spliced between the input and
// output stages of a worker's chain. It is the runnable counterpart of a
// dataflow.Step, the same split the teacher draws between a *bigslice.Slice
// (the declared shape) and a *Task (the thing Eval actually runs).
type Stage interface {
	ID() id.StepID
	// Process turns one input record into zero or more output records.
	Process(ctx context.Context, rec dataflow.Record) ([]dataflow.Record, error)
	// Flush is invoked once per epoch close, in step order, giving
	// window-based stages a chance to emit closed windows and every
	// stateful stage a chance to report its state-change snapshot
	// (spec.md §4.D invariant 3).
	Flush(ctx context.Context, epoch id.Epoch) ([]dataflow.Record, []recovery.StateChange, error)
}

// pureStage adapts the non-stateful operators (Map, FlatMap, Filter,
// FilterMap, Inspect, InspectEpoch) to Stage. They carry no accumulator,
// so Flush is a no-op, mirroring the teacher's split between its stateless
// Timely-style combinators and the heavier combinerState machine.
type pureStage struct {
	stepID id.StepID
	apply  func(rec dataflow.Record) ([]dataflow.Record, error)
}

func (s *pureStage) ID() id.StepID { return s.stepID }

func (s *pureStage) Process(_ context.Context, rec dataflow.Record) ([]dataflow.Record, error) {
	return s.apply(rec)
}

func (s *pureStage) Flush(context.Context, id.Epoch) ([]dataflow.Record, []recovery.StateChange, error) {
	return nil, nil, nil
}

func newMapStage(step dataflow.Map) *pureStage {
	return &pureStage{stepID: step.ID, apply: func(rec dataflow.Record) ([]dataflow.Record, error) {
		v, err := operators.Map(step.Fn, rec.Value)
		if err != nil {
			return nil, err
		}
		return []dataflow.Record{{Epoch: rec.Epoch, Value: v}}, nil
	}}
}

func newFlatMapStage(step dataflow.FlatMap) *pureStage {
	return &pureStage{stepID: step.ID, apply: func(rec dataflow.Record) ([]dataflow.Record, error) {
		vs, err := operators.FlatMap(step.Fn, rec.Value)
		if err != nil {
			return nil, err
		}
		out := make([]dataflow.Record, len(vs))
		for i, v := range vs {
			out[i] = dataflow.Record{Epoch: rec.Epoch, Value: v}
		}
		return out, nil
	}}
}

func newFilterStage(step dataflow.Filter) *pureStage {
	return &pureStage{stepID: step.ID, apply: func(rec dataflow.Record) ([]dataflow.Record, error) {
		keep, err := operators.Filter(step.Predicate, rec.Value)
		if err != nil || !keep {
			return nil, err
		}
		return []dataflow.Record{rec}, nil
	}}
}

func newFilterMapStage(step dataflow.FilterMap) *pureStage {
	return &pureStage{stepID: step.ID, apply: func(rec dataflow.Record) ([]dataflow.Record, error) {
		v, err := operators.Map(step.Fn, rec.Value)
		if err != nil {
			return nil, err
		}
		if !operators.FilterMapKeep(v) {
			return nil, nil
		}
		return []dataflow.Record{{Epoch: rec.Epoch, Value: v}}, nil
	}}
}

func newInspectStage(step dataflow.Inspect) *pureStage {
	return &pureStage{stepID: step.ID, apply: func(rec dataflow.Record) ([]dataflow.Record, error) {
		operators.Inspect(step.Fn, rec.Value)
		return []dataflow.Record{rec}, nil
	}}
}

func newInspectEpochStage(step dataflow.InspectEpoch) *pureStage {
	return &pureStage{stepID: step.ID, apply: func(rec dataflow.Record) ([]dataflow.Record, error) {
		operators.InspectEpoch(step.Fn, rec.Epoch, rec.Value)
		return []dataflow.Record{rec}, nil
	}}
}

// statefulUnaryStage adapts operators.StatefulUnary (Reduce, StatefulMap)
// to Stage. kv records carry (key, value) pairs; Flush reports the
// current snapshot as upserts plus tombstones for keys dropped since the
// previous flush, which is how the step-changes stream stays a
// compacted log (spec.md §4.C).
type statefulUnaryStage struct {
	stepID id.StepID
	inner  *operators.StatefulUnary
	encode func(key any) string
	seen   map[string]bool
}

func newStatefulUnaryStage(stepID id.StepID, inner *operators.StatefulUnary, encode func(any) string) *statefulUnaryStage {
	return &statefulUnaryStage{stepID: stepID, inner: inner, encode: encode, seen: make(map[string]bool)}
}

func (s *statefulUnaryStage) ID() id.StepID { return s.stepID }

func (s *statefulUnaryStage) Process(_ context.Context, rec dataflow.Record) ([]dataflow.Record, error) {
	kv, ok := rec.Value.(dataflow.KV)
	if !ok {
		return nil, fmt.Errorf("compiler: step %s: expected dataflow.KV, got %T", s.stepID, rec.Value)
	}
	out, emitted, err := s.inner.Apply(kv)
	if err != nil || !emitted {
		return nil, err
	}
	return []dataflow.Record{{Epoch: rec.Epoch, Value: out}}, nil
}

func (s *statefulUnaryStage) Flush(_ context.Context, _ id.Epoch) ([]dataflow.Record, []recovery.StateChange, error) {
	live := make(map[string]bool)
	var changes []recovery.StateChange
	for _, ks := range s.inner.Snapshot() {
		k := s.encode(ks.Key)
		live[k] = true
		payload, err := encodeState(ks.Value)
		if err != nil {
			return nil, nil, err
		}
		changes = append(changes, recovery.StateChange{Step: s.stepID, Key: k, Value: payload})
	}
	for k := range s.seen {
		if !live[k] {
			changes = append(changes, recovery.StateChange{Step: s.stepID, Key: k, Delete: true})
		}
	}
	s.seen = live
	return nil, changes, nil
}

// statefulWindowStage adapts operators.StatefulWindowUnary (CollectWindow,
// FoldWindow, ReduceWindow) to Stage.
type statefulWindowStage struct {
	stepID id.StepID
	inner  *operators.StatefulWindowUnary
	seen   map[string]bool
}

func newStatefulWindowStage(stepID id.StepID, inner *operators.StatefulWindowUnary) *statefulWindowStage {
	return &statefulWindowStage{stepID: stepID, inner: inner, seen: make(map[string]bool)}
}

func (s *statefulWindowStage) ID() id.StepID { return s.stepID }

func (s *statefulWindowStage) Process(_ context.Context, rec dataflow.Record) ([]dataflow.Record, error) {
	kv, ok := rec.Value.(dataflow.KV)
	if !ok {
		return nil, fmt.Errorf("compiler: step %s: expected dataflow.KV, got %T", s.stepID, rec.Value)
	}
	results, err := s.inner.Apply(kv)
	if err != nil {
		return nil, err
	}
	return windowResultsToRecords(rec.Epoch, results)
}

func (s *statefulWindowStage) Flush(_ context.Context, epoch id.Epoch) ([]dataflow.Record, []recovery.StateChange, error) {
	results := s.inner.Advance(int64(epoch))
	recs, err := windowResultsToRecords(epoch, results)
	if err != nil {
		return nil, nil, err
	}
	live := make(map[string]bool)
	var changes []recovery.StateChange
	for k, v := range s.inner.Snapshot() {
		live[k] = true
		payload, err := encodeState(v)
		if err != nil {
			return nil, nil, err
		}
		changes = append(changes, recovery.StateChange{Step: s.stepID, Key: k, Value: payload})
	}
	for k := range s.seen {
		if !live[k] {
			changes = append(changes, recovery.StateChange{Step: s.stepID, Key: k, Delete: true})
		}
	}
	s.seen = live
	return recs, changes, nil
}

// windowResultsToRecords re-wraps every Ok WindowResult as a Record and
// discards the Err ones (spec.md §4.D invariant 4). No current Windower
// ever populates Err — late records are reported through OnLate instead
// — but a future Windower that folds a per-window error into its close
// result (e.g. a user Fold func that failed mid-window) can rely on this
// discard-not-abort behavior rather than taking down the whole worker.
func windowResultsToRecords(epoch id.Epoch, results []dataflow.WindowResult) ([]dataflow.Record, error) {
	out := make([]dataflow.Record, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		out = append(out, dataflow.Record{Epoch: epoch, Value: dataflow.KV{Key: r.Key, Value: r.Value}})
	}
	return out, nil
}

// encodeState renders a stateful operator's accumulator to bytes for the
// state log. gob is the teacher's own wire format for combiner spills
// (sliceio partition files), so state payloads use it here too rather
// than reaching for a different codec for what is, to the recovery
// store, an opaque blob.
var encodeState = gobEncode

// decodeWindowKey reverses operators.EncodeWindowKey, splitting at the
// first '\x1f' separator so resumed window state can be split back into
// (key, window) pairs. EncodeWindowKey does no escaping, so a key whose
// text contains '\x1f' does not split back correctly.
func decodeWindowKey(enc string) (any, string) {
	for i := 0; i < len(enc); i++ {
		if enc[i] == '\x1f' {
			return enc[:i], enc[i+1:]
		}
	}
	return enc, ""
}
