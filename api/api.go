// Package api exposes the engine's job and event operations over HTTP.
// Routes are versioned under /v1 and return JSON.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/engine"
)

// API wires HTTP handlers over an Engine.
type API struct {
	eng *engine.Engine
}

// New creates an API from an Engine.
func New(eng *engine.Engine) *API {
	return &API{eng: eng}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes into the given router.
func (a *API) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	// /jobs/counts must precede /jobs/{id} so "counts" is not parsed as
	// a job id.
	v1.HandleFunc("/jobs/counts", a.jobCounts).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", a.submitJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", a.listJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", a.getJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/cancel", a.cancelJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/pause", a.pauseJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/resume", a.resumeJob).Methods(http.MethodPost)

	v1.HandleFunc("/events/{channel}", a.publishEvent).Methods(http.MethodPost)
	v1.HandleFunc("/events/{channel}", a.replayEvents).Methods(http.MethodGet)

	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps sentinel errors to HTTP statuses: unknown ids to
// 404, invalid lifecycle transitions to 409.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taskbus.ErrJobNotFound), errors.Is(err, taskbus.ErrEventNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, taskbus.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, taskbus.ErrJobAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
