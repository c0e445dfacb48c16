// Package httpapi exposes small JSON status/health endpoints alongside a
// worker's or server's RPC port, grounded on NebulousLabs-Sia's node/api:
// an httprouter.Router wired up with GET-only handlers that marshal a
// struct straight to JSON, no authentication or mutating routes needed for
// evalforge's read-only status surface.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/evalforge/evalforge/dispatcher"
	"github.com/evalforge/evalforge/workermanager"
)

// Error is the JSON body written for a non-2xx response, mirroring the
// source pack's api.Error shape.
type Error struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WorkerStatus reports a worker's core budget and queue depth.
type WorkerStatus struct {
	NumCores  int32 `json:"num_cores"`
	CoresUsed int32 `json:"cores_used"`
	Pending   int   `json:"pending"`
}

// NewWorkerHandler returns an http.Handler serving GET /status for a
// worker, reading live figures off m.
func NewWorkerHandler(m *workermanager.Manager) http.Handler {
	router := httprouter.New()
	router.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, WorkerStatus{
			NumCores:  m.NumCores(),
			CoresUsed: m.CoresInUse(),
			Pending:   m.Pending(),
		})
	})
	return router
}

// ServerStatus reports how many evaluators and requests the dispatcher is
// currently holding.
type ServerStatus struct {
	IdleWorkers     int `json:"idle_workers"`
	PendingRequests int `json:"pending_requests"`
}

// NewServerHandler returns an http.Handler serving GET /workers and
// GET /queue for a server, both backed by d.
func NewServerHandler(d *dispatcher.Dispatcher) http.Handler {
	router := httprouter.New()
	router.GET("/workers", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, ServerStatus{IdleWorkers: d.IdleEvaluators()})
	})
	router.GET("/queue", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, ServerStatus{PendingRequests: d.PendingRequests()})
	})
	return router
}
