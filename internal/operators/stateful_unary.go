// Package operators implements the generic stateful-unary and
// stateful-window-unary patterns spec.md §3/§4.D describe, plus the pure
// transforms (map/flat_map/filter/...). It is the Go home of what spec.md
// calls the "Operator Builder Registry": given a step's logic (a reducer,
// a mapper, a windower), it produces the runnable fragment the compiler
// splices into the chain.
//
// The per-key accumulator bookkeeping here is grounded on the teacher's
// combiner state machine in exec/bigmachine.go (combinerState /
// combinerWriting / combinerCommitted) generalized from "one shared
// combine buffer per worker" to "one accumulator per logical key."
package operators

import (
	"github.com/fluxrun/fluxrun/internal/dataflow"
)

// KeyState is one logical key's persisted accumulator, snapshotted on
// every epoch close for the state writer (spec.md §3 "State log entry").
type KeyState struct {
	Key   any
	Value any
}

// StatefulUnary runs the generic per-key accumulator pattern: maintain
// one accumulator per logical key and call Step for each arriving
// value. It assumes every record it sees already belongs to this
// worker — the hash-routed delivery to the single owning worker
// (spec.md:88) happens one layer up, in compiler.routedStage, before
// Apply is ever called.
type StatefulUnary struct {
	// Step advances the accumulator for key by value, returning the new
	// accumulator, whatever should be emitted downstream (nil to emit
	// nothing), whether the key's state should be dropped after this
	// call, and any error from user code.
	Step func(acc, value any) (newAcc, emit any, drop bool, err error)

	states map[any]any
}

// NewStatefulUnary constructs a StatefulUnary seeded from previously
// persisted per-key state (resume_state, spec.md §3). Keys present in
// resume are the ones the compiler already popped out of FlowStateBytes
// before calling this.
func NewStatefulUnary(seed map[any]any, step func(acc, value any) (any, any, bool, error)) *StatefulUnary {
	states := make(map[any]any, len(seed))
	for k, v := range seed {
		states[k] = v
	}
	return &StatefulUnary{Step: step, states: states}
}

// Apply advances the key's accumulator (building fresh state via Step
// being called with a nil acc if the key is new) and reports the
// (key, value) pair to emit downstream, if any.
func (s *StatefulUnary) Apply(kv dataflow.KV) (emit dataflow.KV, emitted bool, err error) {
	acc := s.states[kv.Key]
	newAcc, out, drop, err := s.Step(acc, kv.Value)
	if err != nil {
		return dataflow.KV{}, false, err
	}
	if drop || newAcc == nil {
		delete(s.states, kv.Key)
	} else {
		s.states[kv.Key] = newAcc
	}
	if out == nil {
		return dataflow.KV{}, false, nil
	}
	return dataflow.KV{Key: kv.Key, Value: out}, true, nil
}

// Snapshot returns the current per-key state, keyed by the logical key,
// for the epoch-close state-change stream (spec.md §4.C state observer).
func (s *StatefulUnary) Snapshot() []KeyState {
	out := make([]KeyState, 0, len(s.states))
	for k, v := range s.states {
		out = append(out, KeyState{Key: k, Value: v})
	}
	return out
}

// Len reports the number of live keys, used by tests asserting state was
// discarded on completion (spec.md §8 scenario 2).
func (s *StatefulUnary) Len() int { return len(s.states) }
