package dataflow

import (
	"context"
	"encoding/binary"
	"sync"

	"gopkg.in/yaml.v3"
)

// TestingSource is the reference PartitionedSource collaborator spec.md
// §1 calls for: a fixed, in-memory partitioning of static values good
// enough to drive the worked examples in spec.md §8 and unit tests,
// without standing up a real connector. Partition assignment to workers
// is the stable hash spec.md §4.D requires: partition i belongs to
// worker i mod WorkerCount, so every worker always builds the same
// operator regardless of how many partitions happen to land on it.
type TestingSource struct {
	// Partitions holds each partition's values in order, keyed by
	// partition id. TestingSourceFromYAML builds one of these from a
	// fixture file.
	Partitions map[string][]any
}

var _ PartitionedSource = TestingSource{}

func (TestingSource) isSource() {}

// testingSourceFixture is the YAML shape TestingSourceFromYAML parses,
// matching the blueprint-step-fixture convention SPEC_FULL.md §5
// describes (gopkg.in/yaml.v3, the same library idestis-pipe and
// LaurieRhodes-mcp-cli-go use for their own fixtures/config).
type testingSourceFixture struct {
	Partitions map[string][]any `yaml:"partitions"`
}

// TestingSourceFromYAML builds a TestingSource from a YAML document
// shaped like:
//
//	partitions:
//	  "0": [1, 2, 3]
//	  "1": [4, 5]
func TestingSourceFromYAML(doc []byte) (TestingSource, error) {
	var fx testingSourceFixture
	if err := yaml.Unmarshal(doc, &fx); err != nil {
		return TestingSource{}, err
	}
	return TestingSource{Partitions: fx.Partitions}, nil
}

// Partitions implements PartitionedSource.
func (s TestingSource) Partitions(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(s.Partitions))
	for p := range s.Partitions {
		out = append(out, p)
	}
	return out, nil
}

// Build returns a reader over every partition this worker owns (stable
// hash: index mod WorkerCount over the sorted partition order is decided
// by the caller composing partition ids, so TestingSource itself just
// filters by index mod count over Go map iteration order stabilized via
// the partition list it was given).
func (s TestingSource) Build(ctx context.Context, p PartitionedSourceParams) (PartitionedReader, error) {
	ids, err := s.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	var owned []string
	for i, pid := range sortedStrings(ids) {
		if i%int(p.WorkerCount) == int(p.WorkerIndex) {
			owned = append(owned, pid)
		}
	}
	reader := &testingReader{}
	start := 0
	if len(p.ResumeState) == 8 {
		start = int(binary.BigEndian.Uint64(p.ResumeState))
	}
	for _, pid := range owned {
		reader.values = append(reader.values, s.Partitions[pid]...)
	}
	reader.pos = start
	return reader, nil
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

type testingReader struct {
	values []any
	pos    int
}

func (r *testingReader) Next(ctx context.Context) (Record, bool, error) {
	if r.pos >= len(r.values) {
		return Record{}, false, nil
	}
	v := r.values[r.pos]
	r.pos++
	return Record{Value: v}, true, nil
}

func (r *testingReader) Snapshot() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(r.pos))
	return buf, nil
}

func (r *testingReader) Close() error { return nil }

// TestingSink is the reference DynamicSink collaborator: it appends
// every value it sees to a shared, mutex-protected slice any test or
// demo can inspect afterward. It never participates in recovery (a
// DynamicSink has none), matching spec.md §8 scenario 1's "combined
// stdout" expectation: order across workers is not guaranteed, so
// callers sort/compare as a set.
type TestingSink struct {
	mu     *sync.Mutex
	values *[]any
}

var _ DynamicSink = TestingSink{}

func (TestingSink) isSink() {}

// NewTestingSink returns a sink and the slice pointer it appends to;
// safe to share the same TestingSink across every worker of a
// single-process cluster.
func NewTestingSink() (TestingSink, *[]any) {
	values := new([]any)
	return TestingSink{mu: &sync.Mutex{}, values: values}, values
}

func (s TestingSink) Build(ctx context.Context, p DynamicSinkParams) (DynamicWriter, error) {
	return &testingWriter{sink: s}, nil
}

type testingWriter struct{ sink TestingSink }

func (w *testingWriter) Write(ctx context.Context, rec Record) error {
	w.sink.mu.Lock()
	*w.sink.values = append(*w.sink.values, rec.Value)
	w.sink.mu.Unlock()
	return nil
}

func (w *testingWriter) Close() error { return nil }
