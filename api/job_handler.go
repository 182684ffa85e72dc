package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ledgerline/taskbus/id"
	"github.com/ledgerline/taskbus/job"
)

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
}

// JobCountsResponse groups job counts by lifecycle state.
type JobCountsResponse struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Paused    int64 `json:"paused"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "job type is required")
		return
	}

	j, err := a.eng.EnqueueRaw(r.Context(), req.Type, req.Payload, job.WithPriority(req.Priority))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := job.Filter{
		State: job.State(q.Get("state")),
		Type:  q.Get("type"),
	}
	if f.State != "" && !f.State.Valid() {
		writeError(w, http.StatusBadRequest, "unknown state: "+string(f.State))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		f.Limit = limit
	}

	jobs, err := a.eng.List(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromRequest(w, r)
	if !ok {
		return
	}

	j, err := a.eng.Get(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	a.transitionJob(w, r, a.eng.Cancel)
}

func (a *API) pauseJob(w http.ResponseWriter, r *http.Request) {
	a.transitionJob(w, r, a.eng.Pause)
}

func (a *API) resumeJob(w http.ResponseWriter, r *http.Request) {
	a.transitionJob(w, r, a.eng.Resume)
}

func (a *API) transitionJob(w http.ResponseWriter, r *http.Request, op func(context.Context, id.JobID) error) {
	jobID, ok := jobIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := op(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.eng.Counts(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, JobCountsResponse{
		Pending:   counts[job.StatePending],
		Running:   counts[job.StateRunning],
		Paused:    counts[job.StatePaused],
		Completed: counts[job.StateCompleted],
		Failed:    counts[job.StateFailed],
		Cancelled: counts[job.StateCancelled],
	})
}

func jobIDFromRequest(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id: "+err.Error())
		return id.JobID{}, false
	}
	return jobID, true
}
