package compiler_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/fluxrun/fluxrun/internal/compiler"
	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
)

func testParams(worker id.WorkerIndex, count id.WorkerCount) compiler.Params {
	return compiler.Params{
		Worker:      worker,
		WorkerCount: count,
		EpochMillis: 10,
		ResumeState: model.NewFlowStateBytes(nil),
	}
}

// runToCompletion drives g until the input retires, draining every
// channel so the background goroutine never blocks, and returns the
// final error (nil on a clean retirement).
func runToCompletion(t *testing.T, ctx context.Context, g *compiler.Graph) error {
	t.Helper()
	_, frontiers, errc := g.Run(ctx)
	for range frontiers {
	}
	return <-errc
}

func TestCompileRejectsMissingInputOutput(t *testing.T) {
	bp := dataflow.New()
	bp.AddMap("m", func(v any) (any, error) { return v, nil })
	_, err := compiler.Compile(context.Background(), bp, testParams(0, 1))
	if err == nil {
		t.Fatal("Compile on a blueprint with no Input/Output returned nil error")
	}
}

func TestCompileSinglePassthrough(t *testing.T) {
	src := dataflow.TestingSource{Partitions: map[string][]any{
		"0": {1, 2, 3},
	}}
	sink, values := dataflow.NewTestingSink()

	bp := dataflow.New().
		AddInput("in", src).
		AddMap("double", func(v any) (any, error) { return v.(int) * 2, nil }).
		AddOutput("out", sink)

	g, err := compiler.Compile(context.Background(), bp, testParams(0, 1))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runToCompletion(t, ctx, g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := append([]any(nil), (*values)...)
	sort.Slice(got, func(i, j int) bool { return got[i].(int) < got[j].(int) })
	want := []any{2, 4, 6}
	if len(got) != len(want) {
		t.Fatalf("sink values = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sink values = %v, want %v", got, want)
		}
	}
}

func TestFingerprintStableAcrossWorkers(t *testing.T) {
	src := dataflow.TestingSource{Partitions: map[string][]any{"0": {1}, "1": {2}}}
	sink, _ := dataflow.NewTestingSink()
	bp := dataflow.New().
		AddInput("in", src).
		AddMap("id", func(v any) (any, error) { return v, nil }).
		AddOutput("out", sink)

	worker0, err := compiler.Compile(context.Background(), bp, testParams(0, 2))
	if err != nil {
		t.Fatalf("Compile(worker0): %v", err)
	}
	worker1, err := compiler.Compile(context.Background(), bp, testParams(1, 2))
	if err != nil {
		t.Fatalf("Compile(worker1): %v", err)
	}
	if worker0.Fingerprint != worker1.Fingerprint {
		t.Fatalf("fingerprints differ across workers compiling the same blueprint: %s vs %s", worker0.Fingerprint, worker1.Fingerprint)
	}
}

func TestFingerprintChangesWithSteps(t *testing.T) {
	sink, _ := dataflow.NewTestingSink()
	src := dataflow.TestingSource{Partitions: map[string][]any{"0": {1}}}

	bpA := dataflow.New().AddInput("in", src).AddOutput("out", sink)
	bpB := dataflow.New().AddInput("in", src).AddMap("extra", func(v any) (any, error) { return v, nil }).AddOutput("out", sink)

	if compiler.Fingerprint(bpA) == compiler.Fingerprint(bpB) {
		t.Fatal("Fingerprint did not change when a step was added")
	}
}
