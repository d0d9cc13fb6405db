// Package webintrospect provides the HTTP introspection server's
// lifecycle (spec.md §9, SPEC_FULL.md §6): start-once-per-machine,
// env-gated, zero-second shutdown deadline, running on its own worker
// pool separate from the dataflow workers so a slow handler can never
// stall epoch stepping. The server's own internals (a dashboard, say)
// are out of scope (spec.md §1) — only /health is implemented, enough
// for a supervisor to poll cluster state.
package webintrospect

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	grlog "github.com/grailbio/base/log"
	"github.com/google/uuid"

	"github.com/fluxrun/fluxrun/internal/id"
)

// EnableEnv is the environment variable gating whether the introspection
// server starts at all; unset or "0" disables it entirely (spec.md §9).
const EnableEnv = "FLUXRUN_INTROSPECT"

// Status is a snapshot of one worker's progress, rendered as JSON by
// /health. A supervisor (or test) updates it via Server.Update as the
// worker's frontier advances.
type Status struct {
	Generation  id.Generation  `json:"generation"`
	Worker      id.WorkerIndex `json:"worker"`
	WorkerCount id.WorkerCount `json:"worker_count"`
	Epoch       id.Epoch       `json:"epoch"`
	Frontier    id.Epoch       `json:"frontier"`
	RunID       string         `json:"run_id"`
}

// Server is a started introspection server. Only one may run per
// process (spec.md §9's "start-once-per-machine"); a second StartOnce
// call on the same *Once returns the first call's Server and error.
type Server struct {
	addr     string
	srv      *http.Server
	mu       sync.RWMutex
	status   Status
	shutdown chan struct{}
}

// Addr is the introspection server's bound address (host:port).
func (s *Server) Addr() string { return s.addr }

// Update replaces the published /health status.
func (s *Server) Update(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// Close shuts the server down immediately: spec.md §9 calls for a
// zero-second shutdown deadline (don't wait for in-flight /health
// requests to drain), unlike a typical graceful-shutdown server.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Once guards introspection-server startup so a process that calls
// StartOnce from several workers' goroutines only ever binds one
// listener, mirroring the "start-once-per-machine" requirement.
type Once struct {
	mu      sync.Mutex
	server  *Server
	started bool
	err     error
}

// StartOnce starts the introspection server on addr the first time it is
// called; every subsequent call (even with a different addr) returns the
// first call's result. It runs the HTTP server on its own goroutine (its
// own "thread pool" in Go terms — a single goroutine per accepted
// connection via net/http's own model — distinct from any dataflow
// worker goroutine), per the "webserver runtime on a separate thread
// pool" pattern recovered from original_source's start_server_runtime
// (SPEC_FULL.md §7).
func (o *Once) StartOnce(addr string) (*Server, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return o.server, o.err
	}
	o.started = true

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		o.err = err
		return nil, err
	}
	s := &Server{addr: ln.Addr().String(), shutdown: make(chan struct{})}
	s.status.RunID = uuid.NewString()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	s.srv = &http.Server{Handler: mux}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			grlog.Error.Printf("webintrospect: server on %s exited: %v", s.addr, err)
		}
	}()

	o.server = s
	return s, nil
}

// Enabled reports whether v (typically read from os.Getenv(EnableEnv))
// turns the introspection server on. Anything other than "", "0" or
// "false" enables it.
func Enabled(v string) bool {
	switch v {
	case "", "0", "false":
		return false
	default:
		return true
	}
}

// defaultPollInterval is how often a caller polling /health over HTTP
// (rather than holding a *Server in-process) should re-fetch, documented
// here since both the supervisor and any external dashboard share it.
const defaultPollInterval = 2 * time.Second

// DefaultPollInterval returns defaultPollInterval.
func DefaultPollInterval() time.Duration { return defaultPollInterval }
