package cli

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/grailbio/base/status"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/fluxrun/fluxrun/internal/compiler"
	"github.com/fluxrun/fluxrun/internal/config"
	"github.com/fluxrun/fluxrun/internal/dataflow"
	"github.com/fluxrun/fluxrun/internal/driver"
	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/supervisor"
	"github.com/fluxrun/fluxrun/internal/webintrospect"
)

func newClusterCmd(blueprint *dataflow.Blueprint) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Local multi-process cluster commands",
	}
	cmd.AddCommand(newClusterSpawnCmd(blueprint))
	cmd.AddCommand(newClusterWorkerCmd(blueprint))
	return cmd
}

// newClusterSpawnCmd is the only caller permitted to hold
// supervisor.CLISentinel (SPEC_FULL.md §7's is_in_bytewax_run analogue):
// it re-execs this same binary as `fluxrun cluster worker` once per
// process, passing each child its process index via
// supervisor.ProcIDEnv.
func newClusterSpawnCmd(blueprint *dataflow.Blueprint) *cobra.Command {
	var (
		configPath        string
		processes         int
		workersPerProcess int
		basePort          int
		openDashboard     bool
	)

	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Fork one local OS process per cluster member and relay interrupts to all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if processes <= 0 {
				processes = 1
			}
			if workersPerProcess <= 0 {
				workersPerProcess = 1
			}
			if id.WorkerCount(processes*workersPerProcess) != cfg.Cluster.WorkerCount {
				return fluxerrors.Errorf(fluxerrors.Config, "",
					"processes(%d) * workers-per-process(%d) must equal cluster.worker_count(%d)",
					processes, workersPerProcess, cfg.Cluster.WorkerCount)
			}

			introspectAddr := ""
			if webintrospect.Enabled(os.Getenv(webintrospect.EnableEnv)) {
				introspectAddr = fmt.Sprintf("localhost:%d", basePort-1)
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cluster spawn: locating own executable: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := supervisor.Spawn(ctx, supervisor.CLISentinel, supervisor.Config{
				Topology: supervisor.Topology{
					Processes:         processes,
					WorkersPerProcess: workersPerProcess,
				},
				BasePort: basePort,
				CommandFor: func(procID int, addr string) *exec.Cmd {
					return exec.CommandContext(ctx, exe, "cluster", "worker",
						"--config", configPath,
						"--workers-per-process", strconv.Itoa(workersPerProcess),
						"--addr", addr)
				},
				IntrospectAddr: introspectAddr,
			})
			if err == nil && res.Introspect != nil && openDashboard {
				_ = browser.OpenURL("http://" + res.Introspect.Addr() + "/health")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "fluxrun.yaml", "path to the cluster/recovery config file")
	cmd.Flags().IntVar(&processes, "processes", 1, "number of local OS processes to fork")
	cmd.Flags().IntVar(&workersPerProcess, "workers-per-process", 1, "workers run inside each forked process")
	cmd.Flags().IntVar(&basePort, "base-port", 20100, "first localhost port synthesized addresses start from")
	cmd.Flags().BoolVar(&openDashboard, "open", false, "open the introspection server's /health page in a browser once started")
	return cmd
}

// newClusterWorkerCmd is invoked only by the supervisor (never directly
// by a user): it reads its own process index from supervisor.ProcIDEnv
// and runs workersPerProcess workers of blueprint as a multi-process
// cluster member, exchanging GraphFingerprints with its peers over an
// in-process Fabric limited to this one process's own workers (a real
// cross-machine cluster would instead build a bigmachine-backed Fabric
// over --addr/peer addresses; that wiring is left to the embedding
// application, which knows its own bigmachine.System).
func newClusterWorkerCmd(blueprint *dataflow.Blueprint) *cobra.Command {
	var (
		configPath        string
		workersPerProcess int
		addr              string
	)

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Internal: run this process's share of a spawned cluster",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			procIDStr := os.Getenv(supervisor.ProcIDEnv)
			procID, err := strconv.Atoi(procIDStr)
			if err != nil {
				return fluxerrors.Errorf(fluxerrors.Config, "", "%s must be set by the supervisor, got %q", supervisor.ProcIDEnv, procIDStr)
			}

			s, err := openStore(cmd.Context(), cfg.Recovery)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			fabric := driver.NewInProcessFabric(id.WorkerCount(workersPerProcess))
			grp := status.New().Group(fmt.Sprintf("fluxrun-proc-%d", procID))
			log.Info("starting cluster worker process", "proc", procID, "addr", addr, "fingerprint", compiler.Fingerprint(blueprint))

			for local := 0; local < workersPerProcess; local++ {
				local := local
				self := supervisor.GlobalWorkerIndex(procID, local, workersPerProcess)
				go func() {
					err := driver.RunMultiProcess(ctx, driver.MultiConfig{
						Config: driver.Config{
							Blueprint:   blueprint,
							WorkerCount: cfg.Cluster.WorkerCount,
							Store:       s,
							EpochMillis: cfg.Cluster.EpochMillis,
							Status:      grp,
						},
						Self:   self,
						Fabric: fabric,
					})
					if err != nil {
						log.Error("worker exited", "worker", self, "err", err)
					}
				}()
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "fluxrun.yaml", "path to the cluster/recovery config file")
	cmd.Flags().IntVar(&workersPerProcess, "workers-per-process", 1, "workers to run in this process")
	cmd.Flags().StringVar(&addr, "addr", "", "this process's own dial address")
	return cmd
}
