package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

// streamJobEvents streams a job's events until the job turns terminal, the
// client disconnects, or the listener channel closes. The first event is
// always a full snapshot so late subscribers start from current state.
func streamJobEvents(w http.ResponseWriter, r *http.Request, job *progress.Job) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	eventCh := job.AddListener()
	defer job.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", job.Snapshot())
	if job.Status().Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-eventCh:
			if !open {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if job.Status().Terminal() {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
