package driver_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/driver"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/store/inmem"
)

func TestRunSingleProcessPassthrough(t *testing.T) {
	src := dataflow.TestingSource{Partitions: map[string][]any{
		"0": {1, 2, 3},
		"1": {4, 5},
	}}
	sink, values := dataflow.NewTestingSink()
	bp := dataflow.New().
		AddInput("in", src).
		AddMap("double", func(v any) (any, error) { return v.(int) * 2, nil }).
		AddOutput("out", sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := driver.RunSingleProcess(ctx, driver.Config{
		Blueprint:   bp,
		WorkerCount: 2,
		Store:       inmem.New(),
		EpochMillis: 20,
	})
	if err != nil {
		t.Fatalf("RunSingleProcess: %v", err)
	}

	got := append([]any(nil), (*values)...)
	sort.Slice(got, func(i, j int) bool { return got[i].(int) < got[j].(int) })
	want := []any{2, 4, 6, 8, 10}
	if len(got) != len(want) {
		t.Fatalf("sink values = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sink values = %v, want %v", got, want)
		}
	}
}

func TestRunSingleProcessRejectsZeroWorkers(t *testing.T) {
	bp := dataflow.New().
		AddInput("in", dataflow.TestingSource{}).
		AddOutput("out", dataflow.TestingSink{})
	err := driver.RunSingleProcess(context.Background(), driver.Config{
		Blueprint:   bp,
		WorkerCount: id.WorkerCount(0),
		Store:       inmem.New(),
		EpochMillis: 10,
	})
	if err == nil {
		t.Fatal("RunSingleProcess with WorkerCount 0 returned nil error")
	}
}

func TestRunSingleProcessRejectsNilBlueprint(t *testing.T) {
	err := driver.RunSingleProcess(context.Background(), driver.Config{
		WorkerCount: 1,
		Store:       inmem.New(),
		EpochMillis: 10,
	})
	if err == nil {
		t.Fatal("RunSingleProcess with a nil Blueprint returned nil error")
	}
}
