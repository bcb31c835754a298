package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

// JobsHandler exposes job snapshots, live event streams and cancellation.
type JobsHandler struct {
	jobs *progress.Manager
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(jobs *progress.Manager) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

func (h *JobsHandler) lookup(w http.ResponseWriter, r *http.Request) (*progress.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return nil, false
	}
	job, ok := h.jobs.Get(jobID)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

// Get returns the job's current snapshot.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events streams the job's progress as server-sent events until the job
// reaches a terminal status.
func (h *JobsHandler) Events(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	streamJobEvents(w, r, job)
}

// Cancel asks a running job to stop. In-flight items finish; queued ones
// do not start.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if job.Status().Terminal() {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, job.Snapshot())
}
