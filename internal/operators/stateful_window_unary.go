package operators

import (
	"fmt"

	"github.com/fluxrun/fluxrun/internal/dataflow"
)

// windowKey identifies one accumulator: a logical key paired with the
// window id the Windower assigned it to.
type windowKey struct {
	key    any
	window string
}

// StatefulWindowUnary runs the stateful-window-unary pattern (spec.md
// §4.D): per (key, window_id) accumulator, updated on each record via
// Step, emitted on window close via Emit. Apply derives each record's
// timestamp from Clock and raises the watermark itself; Advance is called
// from outside (by the compiler's window stage on every epoch flush) to
// close windows, matching the original source's separate clock_config /
// window_config builder split.
type StatefulWindowUnary struct {
	Clock    dataflow.Clock
	Windower dataflow.Windower

	// Step advances the accumulator for (key, window) by value.
	Step func(acc, value any) (newAcc any, err error)
	// Emit extracts the value to emit for a closed window's final
	// accumulator. CollectWindow's Emit returns the accumulated list
	// unchanged; FoldWindow's returns the fold result; ReduceWindow's
	// returns the reduced value.
	Emit func(acc any) any

	// OnLate, if non-nil, is invoked once per record the Windower judges
	// too late for any still-open window (spec.md §9's late-data policy,
	// SPEC_FULL.md §8: DiscardLate leaves this nil, CountLate wires it to
	// a telemetry counter). The record's value is dropped either way.
	OnLate func()

	watermark int64
	accs      map[windowKey]any
	closed    map[string]bool
}

// NewStatefulWindowUnary seeds accumulators from persisted resume state,
// keyed by an opaque string the caller produced with EncodeWindowKey.
func NewStatefulWindowUnary(clock dataflow.Clock, windower dataflow.Windower,
	step func(acc, value any) (any, error), emit func(acc any) any,
	seed map[string]any, decodeKey func(string) (any, string), onLate func()) *StatefulWindowUnary {
	s := &StatefulWindowUnary{
		Clock: clock, Windower: windower, Step: step, Emit: emit, OnLate: onLate,
		accs: make(map[windowKey]any, len(seed)), closed: make(map[string]bool),
	}
	for enc, v := range seed {
		k, w := decodeKey(enc)
		s.accs[windowKey{k, w}] = v
	}
	return s
}

// EncodeWindowKey renders a (key, window) pair into the string form used
// as the state-log logical key, since StepID x logical_key in spec.md §3
// is itself an opaque key and our window accumulators are keyed one level
// deeper by window id too.
func EncodeWindowKey(key any, window string) string {
	return fmt.Sprintf("%v\x1f%s", key, window)
}

// Apply derives value's event-time timestamp from the Clock, routes it
// into the window(s) the Windower assigns it to, and returns the
// WindowResults for any windows that close as a consequence —
// ordinarily zero or one per call, but a Windower may close several at
// once (e.g. catching up after a gap).
func (s *StatefulWindowUnary) Apply(kv dataflow.KV) ([]dataflow.WindowResult, error) {
	ts, err := s.Clock.Watermark(kv.Value)
	if err != nil {
		return nil, err
	}
	if ts > s.watermark {
		s.watermark = ts
	}
	windows, err := s.Windower.Assign(ts)
	if err != nil {
		return nil, err
	}
	for _, w := range windows {
		if s.Windower.IsLate(ts, s.watermark) {
			if s.OnLate != nil {
				s.OnLate()
			}
			continue
		}
		wk := windowKey{kv.Key, w}
		newAcc, err := s.Step(s.accs[wk], kv.Value)
		if err != nil {
			return nil, err
		}
		s.accs[wk] = newAcc
	}
	return s.drainClosed(), nil
}

// Advance moves the watermark forward without admitting a new record,
// e.g. driven by a periodic tick so windows close even during an input
// lull. Returns any WindowResults the advance causes.
func (s *StatefulWindowUnary) Advance(watermark int64) []dataflow.WindowResult {
	if watermark > s.watermark {
		s.watermark = watermark
	}
	return s.drainClosed()
}

func (s *StatefulWindowUnary) drainClosed() []dataflow.WindowResult {
	var out []dataflow.WindowResult
	for _, w := range s.Windower.Closed(s.watermark) {
		if s.closed[w] {
			continue
		}
		s.closed[w] = true
		for wk, acc := range s.accs {
			if wk.window != w {
				continue
			}
			out = append(out, dataflow.WindowResult{Key: wk.key, Value: s.Emit(acc)})
			delete(s.accs, wk)
		}
	}
	return out
}

// Snapshot returns the current per-(key,window) state for persistence.
func (s *StatefulWindowUnary) Snapshot() map[string]any {
	out := make(map[string]any, len(s.accs))
	for wk, v := range s.accs {
		out[EncodeWindowKey(wk.key, wk.window)] = v
	}
	return out
}
