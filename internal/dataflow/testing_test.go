package dataflow_test

import (
	"context"
	"sort"
	"testing"

	"github.com/fluxrun/fluxrun/internal/dataflow"
)

func TestTestingSourceFromYAML(t *testing.T) {
	src, err := dataflow.TestingSourceFromYAML([]byte(`
partitions:
  "0": [1, 2]
  "1": [3]
`))
	if err != nil {
		t.Fatalf("TestingSourceFromYAML: %v", err)
	}
	if len(src.Partitions) != 2 {
		t.Fatalf("Partitions = %v, want 2 entries", src.Partitions)
	}
}

func TestTestingSourcePartitionsOwnedByWorker(t *testing.T) {
	src := dataflow.TestingSource{Partitions: map[string][]any{
		"0": {1, 2},
		"1": {3},
		"2": {4, 5},
	}}
	ctx := context.Background()

	reader, err := src.Build(ctx, dataflow.PartitionedSourceParams{WorkerIndex: 0, WorkerCount: 2})
	if err != nil {
		t.Fatalf("Build(worker 0): %v", err)
	}
	defer reader.Close()

	var got []any
	for {
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, rec.Value)
	}
	sort.Slice(got, func(i, j int) bool { return got[i].(int) < got[j].(int) })
	// worker 0 owns partitions at sorted index 0 and 2 ("0" and "2"): {1,2,4,5}.
	want := []any{1, 2, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("worker 0 got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("worker 0 got %v, want %v", got, want)
		}
	}
}

func TestTestingSourceSnapshotResumes(t *testing.T) {
	src := dataflow.TestingSource{Partitions: map[string][]any{"0": {10, 20, 30}}}
	ctx := context.Background()

	reader, err := src.Build(ctx, dataflow.PartitionedSourceParams{WorkerIndex: 0, WorkerCount: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, _, err := reader.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	snap, err := reader.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	reader.Close()

	resumed, err := src.Build(ctx, dataflow.PartitionedSourceParams{WorkerIndex: 0, WorkerCount: 1, ResumeState: snap})
	if err != nil {
		t.Fatalf("Build(resume): %v", err)
	}
	defer resumed.Close()
	rec, ok, err := resumed.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next(resumed) = %v, %v, %v", rec, ok, err)
	}
	if rec.Value != 20 {
		t.Fatalf("Next(resumed).Value = %v, want 20 (position 1, after the already-read value 10)", rec.Value)
	}
}

func TestTestingSinkCollectsWrites(t *testing.T) {
	sink, values := dataflow.NewTestingSink()
	ctx := context.Background()
	writer, err := sink.Build(ctx, dataflow.DynamicSinkParams{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer writer.Close()

	for _, v := range []any{"a", "b", "c"} {
		if err := writer.Write(ctx, dataflow.Record{Value: v}); err != nil {
			t.Fatalf("Write(%v): %v", v, err)
		}
	}
	if len(*values) != 3 {
		t.Fatalf("collected values = %v, want 3 entries", *values)
	}
}
