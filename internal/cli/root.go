// Package cli implements cmd/fluxrun's command tree with
// github.com/spf13/cobra, matching idestis-pipe's and
// LaurieRhodes-mcp-cli-go's own cmd/ layout: a root command, CLI-facing
// logging through github.com/charmbracelet/log (SPEC_FULL.md §4), and
// github.com/fatih/color for the panic/error report printed to stderr.
//
// A Blueprint is an external interface the spec places out of scope
// (spec.md §1's "blueprint DSL" collaborator): this package never builds
// one itself. The embedding application builds its own
// *dataflow.Blueprint in Go and calls Execute with it, the same relationship
// bigslice has with a Go program that calls bigslice.Run — fluxrun is a
// library with a CLI harness around it, not a script interpreter.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fluxrun/fluxrun/internal/dataflow"
	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
)

// Version defaults to "dev"; a release build overrides it with
// -ldflags "-X github.com/fluxrun/fluxrun/internal/cli.Version=...".
var Version = "dev"

// Execute builds the fluxrun command tree for blueprint and runs it
// against os.Args, returning the command's error (nil after --help). A
// non-nil error is also printed to stderr in red.
func Execute(blueprint *dataflow.Blueprint) error {
	root := newRootCmd(blueprint)
	err := root.Execute()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "fluxrun: %v\n", err)
	}
	return err
}

func newRootCmd(blueprint *dataflow.Blueprint) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "fluxrun",
		Short:         "Run a compiled dataflow blueprint as a recoverable, epoch-driven worker cluster",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			lvl, err := log.ParseLevel(logLevel)
			if err != nil {
				lvl = log.InfoLevel
			}
			log.SetLevel(lvl)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "CLI log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(blueprint))
	root.AddCommand(newClusterCmd(blueprint))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fluxrun version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	}
}

// ExitCode maps a returned error to a process exit code: 130 for an
// Interrupted kind (matching the conventional 128+SIGINT), 1 for any
// other error, 0 for nil. cmd/fluxrun's main calls this after Execute
// returns.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case fluxerrors.Is(fluxerrors.Interrupted, err):
		return 130
	default:
		return 1
	}
}
