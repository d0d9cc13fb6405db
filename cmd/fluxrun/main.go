// Command fluxrun is a thin binary wrapper around internal/cli, the way
// bigmachine's own cmd/bigmachine wraps its library in a few lines of
// main. The blueprint it runs is a small built-in word-count demo wired
// from dataflow.TestingSource/TestingSink, standing in for the
// real blueprint an embedding application would build and pass to
// cli.Execute instead.
package main

import (
	"os"
	"strings"

	"github.com/fluxrun/fluxrun/internal/cli"
	"github.com/fluxrun/fluxrun/internal/dataflow"
)

var demoLines = map[string][]any{
	"0": {"the quick fox", "the lazy dog"},
	"1": {"the fox jumps", "the dog sleeps"},
}

func demoBlueprint() *dataflow.Blueprint {
	src := dataflow.TestingSource{Partitions: demoLines}
	sink, _ := dataflow.NewTestingSink()

	return dataflow.New().
		AddInput("lines", src).
		AddFlatMap("words", func(v any) ([]any, error) {
			fields := strings.Fields(v.(string))
			out := make([]any, len(fields))
			for i, w := range fields {
				out[i] = dataflow.KV{Key: w, Value: 1}
			}
			return out, nil
		}).
		AddReduce("count", func(acc, v any) (any, error) {
			return acc.(int) + v.(int), nil
		}, func(acc any) bool { return false }).
		AddOutput("counts", sink)
}

func main() {
	err := cli.Execute(demoBlueprint())
	os.Exit(cli.ExitCode(err))
}
