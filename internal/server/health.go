// Package server exposes the daemon's HTTP health and metrics surface.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/ledgerd/internal/logging"
)

// ReadinessChecker is implemented by components that gate /readyz, such as
// the blockstore.
type ReadinessChecker interface {
	// Name returns the name of the component for display in health status.
	Name() string

	// CheckReady returns nil if the component is ready, or an error
	// describing why it is not.
	CheckReady(ctx context.Context) error
}

// Worker is a background loop whose liveness is reported on /healthz.
type Worker interface {
	Running() bool
}

// HealthServer provides HTTP endpoints for liveness and readiness probes.
// Extra handlers, such as /metrics, are mounted on the same listener.
type HealthServer struct {
	mu               sync.RWMutex
	addr             string
	boundAddr        string
	server           *http.Server
	logger           *logging.Logger
	shutDown         atomic.Bool
	workers          map[string]Worker
	readinessChecks  []ReadinessChecker
	readinessTimeout time.Duration
	extraHandlers    map[string]http.Handler
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status  string                 `json:"status"`
	Workers map[string]string      `json:"workers,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Worker states reported in HealthStatus.Workers.
const (
	WorkerRunning = "running"
	WorkerStopped = "stopped"
)

// DefaultReadinessTimeout is the default timeout for readiness checks.
const DefaultReadinessTimeout = 5 * time.Second

// NewHealthServer creates a new HealthServer.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.Global()
	}
	return &HealthServer{
		addr:             addr,
		logger:           logger.WithComponent("health"),
		workers:          make(map[string]Worker),
		readinessTimeout: DefaultReadinessTimeout,
		extraHandlers:    make(map[string]http.Handler),
	}
}

// RegisterHandler mounts an extra handler. Call before Start.
func (h *HealthServer) RegisterHandler(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extraHandlers[pattern] = handler
}

// RegisterReadinessCheck registers a component checked on each /readyz request.
func (h *HealthServer) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, checker)
}

// SetReadinessTimeout sets the timeout for individual readiness checks.
func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// RegisterWorker registers a background loop under name. /healthz reports
// degraded while any registered worker is not running.
func (h *HealthServer) RegisterWorker(name string, w Worker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = w
}

// SetShuttingDown marks the server as shutting down.
// After this is called, /healthz and /readyz return 503.
func (h *HealthServer) SetShuttingDown() {
	h.shutDown.Store(true)
}

// IsShuttingDown returns true if the server is shutting down.
func (h *HealthServer) IsShuttingDown() bool {
	return h.shutDown.Load()
}

// Handler builds the server mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	h.mu.RLock()
	for pattern, handler := range h.extraHandlers {
		mux.Handle(pattern, handler)
	}
	h.mu.RUnlock()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start listens on the configured address and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	h.mu.Lock()
	h.server = srv
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Errorf("health server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close shuts down the health server.
func (h *HealthServer) Close() error {
	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, r, h.CheckHealth())
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(w, r, h.CheckReadiness(r.Context()))
}

func writeStatus(w http.ResponseWriter, r *http.Request, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(status)
	}
}

func shutdownStatus() HealthStatus {
	return HealthStatus{
		Status: "shutting_down",
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: false, Message: "daemon is shutting down"},
		},
	}
}

// CheckHealth returns the liveness status without making an HTTP request.
func (h *HealthServer) CheckHealth() HealthStatus {
	if h.shutDown.Load() {
		return shutdownStatus()
	}

	status := HealthStatus{
		Status:  "ok",
		Workers: make(map[string]string),
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: true, Message: "daemon is running"},
		},
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.workers))
	workers := make(map[string]Worker, len(h.workers))
	for name, w := range h.workers {
		names = append(names, name)
		workers[name] = w
	}
	h.mu.RUnlock()
	sort.Strings(names)

	var stopped []string
	for _, name := range names {
		if workers[name].Running() {
			status.Workers[name] = WorkerRunning
			continue
		}
		status.Workers[name] = WorkerStopped
		stopped = append(stopped, name)
	}

	switch {
	case len(stopped) > 0:
		status.Status = "degraded"
		status.Checks["workers"] = CheckResult{
			Healthy: false,
			Message: "stopped: " + strings.Join(stopped, ", "),
		}
	case len(names) > 0:
		status.Checks["workers"] = CheckResult{Healthy: true, Message: "all workers are running"}
	}
	return status
}

// CheckReadiness runs every readiness check without making an HTTP request.
func (h *HealthServer) CheckReadiness(ctx context.Context) HealthStatus {
	if h.shutDown.Load() {
		return shutdownStatus()
	}

	status := HealthStatus{
		Status: "ok",
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: true, Message: "daemon is running"},
		},
	}

	h.mu.RLock()
	checks := make([]ReadinessChecker, len(h.readinessChecks))
	copy(checks, h.readinessChecks)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	for _, checker := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := checker.CheckReady(checkCtx)
		cancel()

		if err != nil {
			status.Status = "not_ready"
			status.Checks[checker.Name()] = CheckResult{Healthy: false, Message: err.Error()}
			continue
		}
		status.Checks[checker.Name()] = CheckResult{Healthy: true, Message: "healthy"}
	}
	return status
}
