package http

import (
	"context"
	"net/http"
	"sync"

	"github.com/bqeco/bqmeta/internal/job"
)

// Runner executes one job run.
type Runner interface {
	Run(ctx context.Context, req job.Request) job.Result
}

// RunHandler handles POST /run. Only one run is in flight at a time; a
// request arriving while a run is active gets 409.
type RunHandler struct {
	runner Runner
	mu     sync.Mutex
}

// NewRunHandler creates a new run handler.
func NewRunHandler(runner Runner) *RunHandler {
	return &RunHandler{runner: runner}
}

// ServeHTTP runs the job synchronously and returns its result. The HTTP
// status mirrors the result code.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	if !h.mu.TryLock() {
		writeError(w, http.StatusConflict, "a run is already in progress", requestID)
		return
	}
	defer h.mu.Unlock()

	// A client that disconnects must not abort a run that has started
	ctx := context.WithoutCancel(r.Context())
	res := h.runner.Run(ctx, job.Request{Trigger: "http:" + requestID})
	writeJSON(w, res.Code, res)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// NewMux wires the trigger routes. metrics may be nil.
func NewMux(runner Runner, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/run", NewRunHandler(runner))
	mux.HandleFunc("/health", HealthHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}
