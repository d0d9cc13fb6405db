package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/grailbio/base/status"
	"github.com/spf13/cobra"

	"github.com/fluxrun/fluxrun/internal/config"
	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/driver"
	"github.com/fluxrun/fluxrun/internal/recovery/store"
	"github.com/fluxrun/fluxrun/internal/recovery/store/postgres"
	"github.com/fluxrun/fluxrun/internal/recovery/store/sqlite"
)

// newRunCmd builds `fluxrun run`: a single-process cluster (every worker
// a goroutine of this process), reading cfg.Cluster.WorkerCount workers'
// worth of Blueprint from the config file named by --config.
func newRunCmd(blueprint *dataflow.Blueprint) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every worker of this generation as a goroutine of this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg.Recovery)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			// status.New().Group(name) is the teacher's own way of handing
			// each worker a named sub-group to post per-task status lines
			// to (exec/bigmachine.go: status.Group(BigmachineStatusGroup)).
			grp := status.New().Group("fluxrun")
			log.Info("starting single-process cluster", "workers", cfg.Cluster.WorkerCount, "epoch_millis", cfg.Cluster.EpochMillis)
			return driver.RunSingleProcess(ctx, driver.Config{
				Blueprint:   blueprint,
				WorkerCount: cfg.Cluster.WorkerCount,
				Store:       s,
				EpochMillis: cfg.Cluster.EpochMillis,
				Status:      grp,
			})
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "fluxrun.yaml", "path to the cluster/recovery config file")
	return cmd
}

// openStore resolves a recovery.Config into a concrete store.Store,
// dispatching on backend name (SPEC_FULL.md §6).
func openStore(ctx context.Context, rc config.Recovery) (store.Store, error) {
	switch rc.Backend {
	case "sqlite":
		return sqlite.Open(ctx, rc.DSN)
	case "postgres":
		return postgres.Open(ctx, rc.DSN)
	default:
		panic("unreachable: config.Validate rejects unknown backends")
	}
}
