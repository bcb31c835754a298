// Package progress tracks processing jobs: per-step counters, warnings,
// errors, ETA estimation and lifecycle state. Jobs are created through a
// Manager, mutated through methods and observed through snapshots, so
// readers never see a half-updated job.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

// Status constants define the lifecycle states of a job.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is one a job never leaves.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepName identifies one stage of the processing pipeline.
type StepName string

// Pipeline steps in execution order.
const (
	StepDownload StepName = "download"
	StepDetect   StepName = "detect"
	StepEmbed    StepName = "embed"
	StepStore    StepName = "store"
)

// StepOrder lists the pipeline steps in execution order.
var StepOrder = []StepName{StepDownload, StepDetect, StepEmbed, StepStore}

// Step tracks completion of one pipeline stage across all items.
type Step struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// Result summarizes a finished processing run.
type Result struct {
	TotalCount      int `json:"total_count"`
	DownloadedCount int `json:"downloaded_count"`
	EmbeddedCount   int `json:"embedded_count"`
	SkippedCount    int `json:"skipped_count"`
	FailedCount     int `json:"failed_count"`
	FacesFound      int `json:"faces_found"`
}

// Snapshot is a point-in-time copy of a job, safe to read and marshal while
// the job keeps running.
type Snapshot struct {
	ID           string            `json:"id"`
	Owner        string            `json:"owner"`
	FolderID     string            `json:"folder_id"`
	Status       Status            `json:"status"`
	Steps        map[StepName]Step `json:"steps"`
	TotalItems   int               `json:"total_items"`
	DoneItems    int               `json:"done_items"`
	SkippedItems int               `json:"skipped_items"`
	Percent      float64           `json:"percent"`
	ETASeconds   float64           `json:"eta_seconds"`
	Warnings     []string          `json:"warnings,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
	Error        string            `json:"error,omitempty"`
	Result       *Result           `json:"result,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// etaSamples bounds the ring of item completion instants used for the ETA.
const etaSamples = 32

// Job tracks one processing run. All mutation goes through methods guarded
// by the job's mutex; readers take a Snapshot. Safe for concurrent use.
type Job struct {
	Broadcaster

	id       string
	owner    string
	folderID string

	mu         sync.Mutex
	status     Status
	steps      map[StepName]*Step
	totalItems int
	doneItems  int
	skipped    int
	warnings   []string
	errs       []string
	failure    string
	result     *Result
	startedAt  time.Time
	finishedAt time.Time

	samples   [etaSamples]time.Time
	sampleLen int
	samplePos int

	onTerminal func(*Job)
}

// NewJob creates a job in the pending state.
func NewJob(id, owner, folderID string) *Job {
	steps := make(map[StepName]*Step, len(StepOrder))
	for _, name := range StepOrder {
		steps[name] = &Step{}
	}
	return &Job{
		id:        id,
		owner:     owner,
		folderID:  folderID,
		status:    StatusPending,
		steps:     steps,
		startedAt: time.Now(),
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Owner returns the owner the job processes for.
func (j *Job) Owner() string { return j.owner }

// FolderID returns the source folder being processed.
func (j *Job) FolderID() string { return j.folderID }

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Run transitions the job from pending to running.
func (j *Job) Run() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusPending {
		j.status = StatusRunning
	}
}

// SetTotals sets the number of items the job will process. Every step gets
// the same total since each item passes through every step.
func (j *Job) SetTotals(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.totalItems = n
	for _, step := range j.steps {
		step.Total = n
	}
}

// Advance marks one item done in the named step.
func (j *Job) Advance(name StepName) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	if step, ok := j.steps[name]; ok {
		step.Done++
	}
}

// ItemFinished records that one item completed the whole pipeline.
func (j *Job) ItemFinished() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.doneItems++
	j.recordSample(time.Now())
}

// ItemSkipped records that one item needed no work. Skips count toward
// overall progress and advance every step.
func (j *Job) ItemSkipped() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.skipped++
	j.doneItems++
	for _, step := range j.steps {
		step.Done++
	}
	j.recordSample(time.Now())
}

// AddWarning records a non-fatal problem.
func (j *Job) AddWarning(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.warnings = append(j.warnings, fmt.Sprintf(format, args...))
}

// AddError records a per-item failure. The job keeps running; errors only
// mark individual items as failed.
func (j *Job) AddError(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errs = append(j.errs, fmt.Sprintf(format, args...))
}

// Complete moves the job to the completed state and attaches the result.
func (j *Job) Complete(res *Result) {
	if j.finish(StatusCompleted, "", res) {
		j.SendEvent(Event{Type: "completed", Data: j.Snapshot()})
	}
}

// Fail moves the job to the failed state with the given cause.
func (j *Job) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if j.finish(StatusFailed, msg, nil) {
		j.SendEvent(Event{Type: "failed", Message: msg, Data: j.Snapshot()})
	}
}

// Cancel moves the job to the cancelled state. In-flight items finish; the
// dispatcher stops picking new ones once it observes the state.
func (j *Job) Cancel() {
	if j.finish(StatusCancelled, "", nil) {
		j.SendEvent(Event{Type: "cancelled", Message: "job cancelled"})
	}
}

// finish performs the terminal transition. Only the first terminal call
// wins; later ones are no-ops. Returns whether this call did the transition.
func (j *Job) finish(status Status, failure string, res *Result) bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.status = status
	j.failure = failure
	j.result = res
	j.finishedAt = time.Now()
	j.mu.Unlock()

	// Outside the job lock so the manager can inspect the job freely.
	if j.onTerminal != nil {
		j.onTerminal(j)
	}
	return true
}

// Publish sends the current snapshot to all listeners.
func (j *Job) Publish() {
	j.SendEvent(Event{Type: "progress", Data: j.Snapshot()})
}

// Snapshot returns a deep copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	steps := make(map[StepName]Step, len(j.steps))
	for name, step := range j.steps {
		steps[name] = *step
	}

	snap := Snapshot{
		ID:           j.id,
		Owner:        j.owner,
		FolderID:     j.folderID,
		Status:       j.status,
		Steps:        steps,
		TotalItems:   j.totalItems,
		DoneItems:    j.doneItems,
		SkippedItems: j.skipped,
		Percent:      j.percentLocked(),
		ETASeconds:   j.etaLocked(),
		Warnings:     append([]string(nil), j.warnings...),
		Errors:       append([]string(nil), j.errs...),
		Error:        j.failure,
		StartedAt:    j.startedAt,
	}
	if j.result != nil {
		res := *j.result
		snap.Result = &res
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

func (j *Job) percentLocked() float64 {
	if j.totalItems <= 0 {
		if j.status == StatusCompleted {
			return 100
		}
		return 0
	}
	pct := float64(j.doneItems) / float64(j.totalItems) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (j *Job) recordSample(t time.Time) {
	j.samples[j.samplePos] = t
	j.samplePos = (j.samplePos + 1) % etaSamples
	if j.sampleLen < etaSamples {
		j.sampleLen++
	}
}

// etaLocked estimates remaining seconds from the average gap between recent
// item completions. Zero until at least two items have finished.
func (j *Job) etaLocked() float64 {
	remaining := j.totalItems - j.doneItems
	if j.sampleLen < 2 || remaining <= 0 {
		return 0
	}
	newest := j.samples[(j.samplePos-1+etaSamples)%etaSamples]
	oldest := j.samples[0]
	if j.sampleLen == etaSamples {
		oldest = j.samples[j.samplePos]
	}
	span := newest.Sub(oldest)
	if span <= 0 {
		return 0
	}
	avg := span / time.Duration(j.sampleLen-1)
	return (avg * time.Duration(remaining)).Seconds()
}
