package operators_test

import (
	"sort"
	"testing"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/operators"
)

// fakeClock treats the record's value as its own event-time timestamp,
// so tests can drive window behavior with plain int64s instead of
// wall-clock time, while still exercising the real Clock.Watermark call
// path (StatefulWindowUnary.Apply derives ts from the Clock, it is never
// passed in directly).
type fakeClock struct{}

func (fakeClock) Watermark(v any) (int64, error) { return v.(int64), nil }

// tumblingWindower assigns every timestamp to a fixed-size bucket
// ("0", "1", ...) and closes a bucket once the watermark has moved a
// full size past its end, the simplest possible Windower grounded on
// spec.md §4.D's tumbling-window example.
type tumblingWindower struct {
	size int64
}

func newTumblingWindower(size int64) *tumblingWindower {
	return &tumblingWindower{size: size}
}

func (w *tumblingWindower) bucket(ts int64) string {
	n := ts / w.size
	return itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func (w *tumblingWindower) Assign(ts int64) ([]string, error) {
	return []string{w.bucket(ts)}, nil
}

func (w *tumblingWindower) IsLate(ts, watermark int64) bool {
	return ts < (watermark/w.size-1)*w.size
}

func (w *tumblingWindower) Closed(watermark int64) []string {
	var out []string
	maxClosed := watermark/w.size - 2
	for i := int64(0); i <= maxClosed; i++ {
		out = append(out, itoa(i))
	}
	return out
}

func TestFoldWindowLogicClosesOnAdvance(t *testing.T) {
	windower := newTumblingWindower(10)
	logic := operators.FoldWindowLogic{
		Init: func() any { return int64(0) },
		Fold: func(acc, v any) (any, error) { return acc.(int64) + v.(int64), nil },
	}
	unary := logic.NewStatefulWindowUnary(fakeClock{}, windower, nil, nil, nil)

	for _, v := range []int64{1, 2, 3} {
		// kv.Value doubles as both the fold input and the event-time
		// timestamp fakeClock.Watermark reads it back as.
		if _, err := unary.Apply(dataflow.KV{Key: "k", Value: v}); err != nil {
			t.Fatalf("Apply(%d): %v", v, err)
		}
	}
	// Nothing has closed yet: watermark 3 is still inside bucket "0".
	if len(unary.Snapshot()) != 1 {
		t.Fatalf("Snapshot() = %+v, want one open window", unary.Snapshot())
	}

	results := unary.Advance(25)
	if len(results) != 1 {
		t.Fatalf("Advance(25) closed %d windows, want 1", len(results))
	}
	if results[0].Key != "k" || results[0].Value != int64(6) {
		t.Fatalf("closed result = %+v, want {k 6}", results[0])
	}
}

func TestFoldWindowLogicLateRecordsAreCounted(t *testing.T) {
	windower := newTumblingWindower(10)
	var lateCount int
	logic := operators.FoldWindowLogic{
		Init: func() any { return int64(0) },
		Fold: func(acc, v any) (any, error) { return acc.(int64) + v.(int64), nil },
	}
	unary := logic.NewStatefulWindowUnary(fakeClock{}, windower, nil, nil, func() { lateCount++ })

	// Value 35 both advances the watermark to 35 (via fakeClock.Watermark)
	// and folds into bucket "3"; value 1 then reads back as timestamp 1,
	// which the Windower judges late against the watermark of 35.
	if _, err := unary.Apply(dataflow.KV{Key: "k", Value: int64(35)}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := unary.Apply(dataflow.KV{Key: "k", Value: int64(1)}); err != nil {
		t.Fatalf("Apply (late): %v", err)
	}
	if lateCount != 1 {
		t.Fatalf("lateCount = %d, want 1", lateCount)
	}
}

func TestEncodeWindowKeyDistinct(t *testing.T) {
	keys := []string{
		operators.EncodeWindowKey("a", "0"),
		operators.EncodeWindowKey("a", "1"),
		operators.EncodeWindowKey("b", "0"),
	}
	sort.Strings(keys)
	for i := 1; i < len(keys); i++ {
		if keys[i] == keys[i-1] {
			t.Fatalf("EncodeWindowKey produced a collision: %q", keys[i])
		}
	}
}
