package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/processor"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

// fakeRunner completes the job immediately and records the options it ran
// with.
type fakeRunner struct {
	cfg  processor.Config
	done chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, job *progress.Job) error {
	job.Run()
	job.Complete(&progress.Result{TotalCount: 1})
	close(f.done)
	return nil
}

func newProcessEnv() (*ProcessHandler, *progress.Manager, *fakeRunner) {
	runner := &fakeRunner{done: make(chan struct{})}
	manager := progress.NewManager()
	handler := NewProcessHandler(manager, func(cfg processor.Config) Runner {
		runner.cfg = cfg
		return runner
	})
	return handler, manager, runner
}

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request body failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestProcessStart_LaunchesJob(t *testing.T) {
	handler, manager, runner := newProcessEnv()

	rec := httptest.NewRecorder()
	handler.Start(rec, postJSON(t, "/api/process", map[string]any{
		"owner":       "owner1",
		"folder_url":  "https://drive.google.com/drive/folders/abc123",
		"force":       true,
		"concurrency": 3,
	}))

	assertStatusCode(t, rec, http.StatusAccepted)
	var snap progress.Snapshot
	parseJSONResponse(t, rec, &snap)
	if snap.ID == "" || snap.Owner != "owner1" || snap.FolderID != "abc123" {
		t.Errorf("snapshot = %+v, want owner1/abc123 with an ID", snap)
	}

	<-runner.done
	if !runner.cfg.ForceReprocess || runner.cfg.Concurrency != 3 {
		t.Errorf("runner config = %+v, want forced with concurrency 3", runner.cfg)
	}
	job, ok := manager.Get(snap.ID)
	if !ok {
		t.Fatal("job not found by the returned ID")
	}
	if got := job.Status(); got != progress.StatusCompleted {
		t.Errorf("job status after run = %q, want completed", got)
	}
}

func TestProcessStart_RejectsSecondJobForOwner(t *testing.T) {
	handler, manager, _ := newProcessEnv()
	if _, err := manager.Start("owner1", "folder1"); err != nil {
		t.Fatalf("starting first job failed: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.Start(rec, postJSON(t, "/api/process", map[string]any{
		"owner":      "owner1",
		"folder_url": "abc123",
	}))

	assertStatusCode(t, rec, http.StatusConflict)
}

func TestProcessStart_Validation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"invalid json", "{not json", errInvalidRequestBody},
		{"missing owner", `{"folder_url": "abc123"}`, "owner is required"},
		{"empty folder url", `{"owner": "owner1"}`, "empty drive URL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _, _ := newProcessEnv()
			req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			handler.Start(rec, req)

			assertStatusCode(t, rec, http.StatusBadRequest)
			assertJSONError(t, rec, tc.wantErr)
		})
	}
}

func TestProcessStart_RejectsUnparsableFolderURL(t *testing.T) {
	handler, _, _ := newProcessEnv()

	rec := httptest.NewRecorder()
	handler.Start(rec, postJSON(t, "/api/process", map[string]any{
		"owner":      "owner1",
		"folder_url": "https://example.com/not/drive",
	}))

	assertStatusCode(t, rec, http.StatusBadRequest)
}
