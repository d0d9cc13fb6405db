// Package supervisor implements the Supervisor / Local Spawn component
// (spec.md §4.H): given a local topology (M processes x N workers each),
// it forks M child OS processes, synthesizes each one's peer addresses,
// starts the introspection server at most once per machine, and relays
// interrupts to every child on shutdown. Grounded on idestis-pipe's
// internal/runner.Runner, which forks step subprocesses with os/exec and
// relays SIGINT/SIGTERM the same way (internal/runner/runner.go).
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	grlog "github.com/grailbio/base/log"

	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/webintrospect"
)

// ProcIDEnv is set by the supervisor on each child process to its
// zero-based process index, the fluxrun analogue of the Rust source's
// __BYTEWAX_PROC_ID (spec.md §9).
const ProcIDEnv = "FLUXRUN_PROC_ID"

// token is the unexported sentinel Spawn requires, recovered from
// original_source's is_in_bytewax_run launcher guard (SPEC_FULL.md §7).
// Go has no caller-frame introspection to check "was I invoked from the
// official launcher" the way the Rust source does, so this is an
// honor-system contract rather than a hard boundary: CLISentinel is the
// only value of this type, and only cmd/fluxrun's `cluster spawn` command
// is meant to hold one. Nothing stops another internal package from
// importing CLISentinel too — the contract is enforced by convention and
// code review, exactly as the comment on the Rust check admits it isn't
// bulletproof either.
type token struct{}

// CLISentinel is the only value of type token; cmd/fluxrun's `cluster
// spawn` command passes it to Spawn. Don't pass it from anywhere else.
var CLISentinel = token{}

// Topology describes a local cluster: Processes independent OS
// processes, each running WorkersPerProcess workers, OR a single process
// joining a cluster at ProcessID with pre-addressed Peers — never both
// (the conflict rule below).
type Topology struct {
	// Processes and WorkersPerProcess describe a fresh local topology the
	// supervisor spawns itself.
	Processes         int
	WorkersPerProcess int
	// ProcessID and Peers describe joining an already-addressed cluster
	// placement instead; set only when Processes/WorkersPerProcess are
	// left zero.
	ProcessID *int
	Peers     []string
}

// validate enforces spec.md §9's conflict rule: local topology
// (Processes/WorkersPerProcess) and cluster placement
// (ProcessID/Peers) are mutually exclusive.
func (t Topology) validate() error {
	local := t.Processes > 0 || t.WorkersPerProcess > 0
	placed := t.ProcessID != nil || len(t.Peers) > 0
	if local && placed {
		return fluxerrors.Errorf(fluxerrors.Config, "",
			"spawn_cluster: processes/workers_per_process and process_id/addresses are mutually exclusive")
	}
	if !local && !placed {
		return fluxerrors.Errorf(fluxerrors.Config, "", "spawn_cluster: must specify either a local topology or a cluster placement")
	}
	if local && (t.Processes <= 0 || t.WorkersPerProcess <= 0) {
		return fluxerrors.Errorf(fluxerrors.Config, "", "spawn_cluster: processes and workers_per_process must both be positive")
	}
	return nil
}

// Config parameterizes one Spawn call.
type Config struct {
	Topology Topology
	// BasePort is the first localhost port synthesized addresses start
	// from; process i binds/dials localhost:BasePort+i.
	BasePort int
	// CommandFor builds the *exec.Cmd for child process procID; the
	// supervisor sets its Env (appending ProcIDEnv and, unless already
	// unset, clearing the introspection-enable variable) and Stdout/Stderr
	// before starting it. Supplied by cmd/fluxrun, which knows how to
	// re-invoke itself as `fluxrun cluster worker`.
	CommandFor func(procID int, addr string) *exec.Cmd
	// IntrospectAddr, if non-empty and the introspection-enable env var
	// (webintrospect.EnableEnv) is set in the supervisor's own
	// environment, is where the introspection server binds. The
	// supervisor starts it at most once, then clears the env var before
	// spawning children so they don't start a second one (spec.md §9).
	IntrospectAddr string
}

// Addresses synthesizes every process's localhost address for a local
// topology (spec.md §9's "synthesizes localhost:PORT+i addresses").
func Addresses(basePort, processes int) []string {
	out := make([]string, processes)
	for i := range out {
		out[i] = fmt.Sprintf("localhost:%d", basePort+i)
	}
	return out
}

// Result is returned once every child process has exited.
type Result struct {
	Introspect *webintrospect.Server
	Errs       []error
}

// Spawn starts cfg.Topology.Processes child processes (or, placed-mode,
// does nothing local since the caller's own process *is* the one worker
// — Spawn is a no-op returning immediately in that case; the caller
// drives driver.RunMultiProcess itself), waits for them, and relays
// SIGINT/SIGTERM to every child until they've all exited or ctx is
// canceled.
func Spawn(ctx context.Context, _ token, cfg Config) (Result, error) {
	if err := cfg.Topology.validate(); err != nil {
		return Result{}, err
	}
	if cfg.Topology.ProcessID != nil {
		// Placed mode: this process already is one cluster member: no
		// local forking to do.
		return Result{}, nil
	}

	var res Result
	if cfg.IntrospectAddr != "" && webintrospect.Enabled(os.Getenv(webintrospect.EnableEnv)) {
		var once webintrospect.Once
		srv, err := once.StartOnce(cfg.IntrospectAddr)
		if err != nil {
			return Result{}, fmt.Errorf("supervisor: starting introspection server: %w", err)
		}
		res.Introspect = srv
		grlog.Printf("supervisor: introspection server listening on %s", srv.Addr())
	}
	// Unset the enable variable regardless, so no child starts a second
	// server of its own (spec.md §9).
	childEnv := filterEnv(os.Environ(), webintrospect.EnableEnv)

	addrs := Addresses(cfg.BasePort, cfg.Topology.Processes)
	cmds := make([]*exec.Cmd, cfg.Topology.Processes)
	for i := range cmds {
		c := cfg.CommandFor(i, addrs[i])
		c.Env = append(append([]string{}, childEnv...), fmt.Sprintf("%s=%d", ProcIDEnv, i))
		if c.Stdout == nil {
			c.Stdout = os.Stdout
		}
		if c.Stderr == nil {
			c.Stderr = os.Stderr
		}
		cmds[i] = c
	}

	for i, c := range cmds {
		if err := c.Start(); err != nil {
			killAll(cmds[:i])
			return res, fmt.Errorf("supervisor: starting process %d: %w", i, err)
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigc:
			grlog.Printf("supervisor: interrupt received, relaying to %d children", len(cmds))
			killAll(cmds)
		case <-ctx.Done():
			killAll(cmds)
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, len(cmds))
	for i, c := range cmds {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Wait(); err != nil {
				errs[i] = fmt.Errorf("process %d: %w", i, err)
			}
		}()
	}
	wg.Wait()
	close(done)

	if res.Introspect != nil {
		if err := res.Introspect.Close(); err != nil {
			grlog.Error.Printf("supervisor: closing introspection server: %v", err)
		}
	}

	for _, err := range errs {
		if err != nil {
			res.Errs = append(res.Errs, err)
		}
	}
	if len(res.Errs) > 0 {
		return res, fluxerrors.Errorf(fluxerrors.Runtime, "", "supervisor: %d of %d children failed: %v", len(res.Errs), len(cmds), res.Errs)
	}
	return res, nil
}

func killAll(cmds []*exec.Cmd) {
	for _, c := range cmds {
		if c.Process == nil {
			continue
		}
		_ = c.Process.Signal(syscall.SIGTERM)
	}
}

func filterEnv(env []string, drop string) []string {
	prefix := drop + "="
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// GlobalWorkerIndex maps a (process id, local worker index) pair under a
// local topology to the blueprint-wide worker index every worker's
// compiler.Params.Worker must agree on.
func GlobalWorkerIndex(procID, localIdx, workersPerProcess int) id.WorkerIndex {
	return id.WorkerIndex(procID*workersPerProcess + localIdx)
}
