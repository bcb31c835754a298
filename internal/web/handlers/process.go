package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/drive"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/processor"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

// Runner executes one processing run, updating the job as it goes.
// *processor.Processor implements it.
type Runner interface {
	Run(ctx context.Context, job *progress.Job) error
}

// RunnerFactory builds a runner for one request's options.
type RunnerFactory func(cfg processor.Config) Runner

// ProcessHandler starts asynchronous processing jobs.
type ProcessHandler struct {
	jobs   *progress.Manager
	newRun RunnerFactory
}

// NewProcessHandler creates a process handler.
func NewProcessHandler(jobs *progress.Manager, newRun RunnerFactory) *ProcessHandler {
	return &ProcessHandler{jobs: jobs, newRun: newRun}
}

// processRequest is the body of POST /api/process.
type processRequest struct {
	FolderURL    string `json:"folder_url"`
	Owner        string `json:"owner"`
	Force        bool   `json:"force"`
	ForceRefetch bool   `json:"force_refetch"`
	Concurrency  int    `json:"concurrency"`
}

// Start kicks off a processing job for an owner's folder and returns its
// first snapshot. At most one job runs per owner at a time.
func (h *ProcessHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Owner == "" {
		respondError(w, http.StatusBadRequest, "owner is required")
		return
	}
	folderID, err := drive.ExtractID(req.FolderURL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.Start(req.Owner, folderID)
	if err != nil {
		if errors.Is(err, progress.ErrJobRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runner := h.newRun(processor.Config{
		Concurrency:    req.Concurrency,
		ForceReprocess: req.Force,
		ForceRefetch:   req.ForceRefetch,
	})
	go func() {
		if err := runner.Run(context.Background(), job); err != nil {
			log.Printf("processing job %s for owner %s failed: %v",
				job.ID(), sanitizeForLog(req.Owner), err)
		}
	}()

	respondJSON(w, http.StatusAccepted, job.Snapshot())
}
