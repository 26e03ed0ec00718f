package rpcapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/spacetimedb/core/pkg/metrics"
	"github.com/spacetimedb/core/pkg/replica"
)

// HealthServer exposes /health, /ready and /metrics over HTTP,
// grounded in the teacher's pkg/api.HealthServer. Warren's readiness
// check gates on raft leadership; a spacetimed process has no
// consensus role of its own, so readiness here instead confirms the
// Manager was constructed and can still field control RPCs.
type HealthServer struct {
	manager *replica.Manager
	mux     *http.ServeMux
}

// NewHealthServer builds a health server backed by manager.
func NewHealthServer(manager *replica.Manager) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{manager: manager, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start runs the health HTTP server on addr, blocking until it exits.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// GetHandler returns the health mux for embedding in another server.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

// HealthResponse is the /health liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready readiness payload.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler reports ready once a Manager is wired in. A process that
// has not finished constructing its Manager (or has none open) cannot
// yet serve any control RPC.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true

	if hs.manager == nil {
		checks["manager"] = "not initialized"
		ready = false
	} else {
		checks["manager"] = "ok"
		checks["active_modules"] = strconv.Itoa(hs.manager.ActiveModules())
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, ReadyResponse{Status: status, Timestamp: time.Now(), Checks: checks})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
