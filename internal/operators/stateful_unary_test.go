package operators_test

import (
	"testing"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/operators"
)

func sumReducer(acc, v any) (any, error) { return acc.(int) + v.(int), nil }
func atLeast(n int) dataflow.IsComplete {
	return func(acc any) bool { return acc.(int) >= n }
}

func TestReduceLogicAccumulatesUntilComplete(t *testing.T) {
	logic := operators.ReduceLogic{Reducer: sumReducer, IsComplete: atLeast(10)}
	unary := logic.NewStatefulUnary(nil)

	_, emitted, err := unary.Apply(dataflow.KV{Key: "a", Value: 3})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if emitted {
		t.Fatal("Apply emitted before IsComplete held")
	}
	if unary.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", unary.Len())
	}

	kv, emitted, err := unary.Apply(dataflow.KV{Key: "a", Value: 8})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !emitted {
		t.Fatal("Apply did not emit once IsComplete held")
	}
	if kv.Key != "a" || kv.Value != 11 {
		t.Fatalf("Apply emitted %+v, want {a 11}", kv)
	}
	if unary.Len() != 0 {
		t.Fatalf("Len() = %d after completion, want 0 (state discarded)", unary.Len())
	}
}

func TestReduceLogicSeedsFromResumeState(t *testing.T) {
	logic := operators.ReduceLogic{Reducer: sumReducer, IsComplete: atLeast(100)}
	seed := map[any]any{"a": 5}
	unary := logic.NewStatefulUnary(seed)

	kv, emitted, err := unary.Apply(dataflow.KV{Key: "a", Value: 2})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if emitted {
		t.Fatal("Apply emitted before IsComplete held")
	}
	snap := unary.Snapshot()
	if len(snap) != 1 || snap[0].Value != 7 {
		t.Fatalf("Snapshot() = %+v, want [{a 7}]", snap)
	}
	_ = kv
}

func TestReduceLogicKeysAreIndependent(t *testing.T) {
	logic := operators.ReduceLogic{Reducer: sumReducer, IsComplete: atLeast(5)}
	unary := logic.NewStatefulUnary(nil)

	if _, emitted, _ := unary.Apply(dataflow.KV{Key: "a", Value: 1}); emitted {
		t.Fatal("key a emitted too early")
	}
	if _, emitted, _ := unary.Apply(dataflow.KV{Key: "b", Value: 1}); emitted {
		t.Fatal("key b emitted too early")
	}
	if unary.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 independent keys", unary.Len())
	}
}
