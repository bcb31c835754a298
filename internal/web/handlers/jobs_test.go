package handlers

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

func newJobsEnv(t *testing.T) (*JobsHandler, *progress.Job) {
	t.Helper()
	manager := progress.NewManager()
	job, err := manager.Start("owner1", "folder1")
	if err != nil {
		t.Fatalf("starting job failed: %v", err)
	}
	return NewJobsHandler(manager), job
}

func jobRequest(method, jobID string) *http.Request {
	req := httptest.NewRequest(method, "/api/jobs/"+jobID, nil)
	return requestWithChiParams(req, map[string]string{"jobID": jobID})
}

func TestJobsGet_ReturnsSnapshot(t *testing.T) {
	handler, job := newJobsEnv(t)

	rec := httptest.NewRecorder()
	handler.Get(rec, jobRequest(http.MethodGet, job.ID()))

	assertStatusCode(t, rec, http.StatusOK)
	var snap progress.Snapshot
	parseJSONResponse(t, rec, &snap)
	if snap.ID != job.ID() || snap.Owner != "owner1" || snap.Status != progress.StatusPending {
		t.Errorf("snapshot = %+v, want pending job %s for owner1", snap, job.ID())
	}
}

func TestJobsGet_UnknownJob(t *testing.T) {
	handler, _ := newJobsEnv(t)

	rec := httptest.NewRecorder()
	handler.Get(rec, jobRequest(http.MethodGet, "nope"))

	assertStatusCode(t, rec, http.StatusNotFound)
	assertJSONError(t, rec, "job not found")
}

func TestJobsCancel(t *testing.T) {
	handler, job := newJobsEnv(t)
	job.Run()

	rec := httptest.NewRecorder()
	handler.Cancel(rec, jobRequest(http.MethodDelete, job.ID()))

	assertStatusCode(t, rec, http.StatusOK)
	if got := job.Status(); got != progress.StatusCancelled {
		t.Errorf("job status = %q, want cancelled", got)
	}

	// Cancelling a finished job is a conflict.
	rec = httptest.NewRecorder()
	handler.Cancel(rec, jobRequest(http.MethodDelete, job.ID()))
	assertStatusCode(t, rec, http.StatusConflict)
}

func TestJobsEvents_TerminalJobClosesAfterSnapshot(t *testing.T) {
	handler, job := newJobsEnv(t)
	job.Run()
	job.Complete(&progress.Result{TotalCount: 2})

	rec := httptest.NewRecorder()
	handler.Events(rec, jobRequest(http.MethodGet, job.ID()))

	assertContentType(t, rec, "text/event-stream")
	body := rec.Body.String()
	if !strings.Contains(body, "event: status") {
		t.Errorf("stream missing initial status event:\n%s", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("initial snapshot does not show the terminal status:\n%s", body)
	}
}

func TestJobsEvents_StreamsUntilTerminal(t *testing.T) {
	handler, job := newJobsEnv(t)
	job.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Events(w, requestWithChiParams(r, map[string]string{"jobID": job.ID()}))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("connecting to event stream failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	nextEvent := func() string {
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		return ""
	}

	// The initial snapshot arrives first; reading it means the stream is
	// subscribed, so events published now cannot be missed.
	if got := nextEvent(); got != "status" {
		t.Fatalf("first event = %q, want status", got)
	}

	job.Publish()
	if got := nextEvent(); got != "progress" {
		t.Fatalf("second event = %q, want progress", got)
	}

	job.Complete(&progress.Result{TotalCount: 1})
	if got := nextEvent(); got != "completed" {
		t.Fatalf("final event = %q, want completed", got)
	}

	// The server closes the stream after the terminal event.
	if got := nextEvent(); got != "" {
		t.Errorf("unexpected event after terminal: %q", got)
	}
}
