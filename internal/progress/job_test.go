package progress_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

func TestJob_Lifecycle(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")

	if got := job.Status(); got != progress.StatusPending {
		t.Fatalf("new job status = %q, want pending", got)
	}

	job.Run()
	if got := job.Status(); got != progress.StatusRunning {
		t.Fatalf("status after Run = %q, want running", got)
	}

	job.Complete(&progress.Result{TotalCount: 3, EmbeddedCount: 3})
	if got := job.Status(); got != progress.StatusCompleted {
		t.Fatalf("status after Complete = %q, want completed", got)
	}

	snap := job.Snapshot()
	if snap.FinishedAt == nil {
		t.Error("completed job should have FinishedAt set")
	}
	if snap.Result == nil || snap.Result.EmbeddedCount != 3 {
		t.Errorf("snapshot result = %+v, want embedded_count 3", snap.Result)
	}
}

func TestJob_FirstTerminalTransitionWins(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	job.Run()
	job.Cancel()
	job.Complete(&progress.Result{})

	if got := job.Status(); got != progress.StatusCancelled {
		t.Errorf("status = %q, want cancelled to stick", got)
	}
	if snap := job.Snapshot(); snap.Result != nil {
		t.Error("Complete after Cancel should not attach a result")
	}
}

func TestJob_Fail(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	job.Run()
	job.Fail(errors.New("folder not found"))

	snap := job.Snapshot()
	if snap.Status != progress.StatusFailed {
		t.Fatalf("status = %q, want failed", snap.Status)
	}
	if snap.Error != "folder not found" {
		t.Errorf("error = %q, want cause message", snap.Error)
	}
}

func TestJob_StepCountersAndPercent(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	job.Run()
	job.SetTotals(4)

	job.Advance(progress.StepDownload)
	job.Advance(progress.StepDetect)
	job.Advance(progress.StepEmbed)
	job.Advance(progress.StepStore)
	job.ItemFinished()

	snap := job.Snapshot()
	if snap.TotalItems != 4 || snap.DoneItems != 1 {
		t.Fatalf("items = %d/%d, want 1/4", snap.DoneItems, snap.TotalItems)
	}
	if snap.Percent != 25 {
		t.Errorf("percent = %v, want 25", snap.Percent)
	}
	for _, name := range progress.StepOrder {
		step := snap.Steps[name]
		if step.Total != 4 || step.Done != 1 {
			t.Errorf("step %s = %d/%d, want 1/4", name, step.Done, step.Total)
		}
	}
}

func TestJob_ItemSkippedAdvancesEveryStep(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	job.Run()
	job.SetTotals(2)
	job.ItemSkipped()

	snap := job.Snapshot()
	if snap.SkippedItems != 1 || snap.DoneItems != 1 {
		t.Fatalf("skipped=%d done=%d, want 1/1", snap.SkippedItems, snap.DoneItems)
	}
	for _, name := range progress.StepOrder {
		if snap.Steps[name].Done != 1 {
			t.Errorf("step %s done = %d, want 1", name, snap.Steps[name].Done)
		}
	}
}

func TestJob_ETA(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	job.Run()
	job.SetTotals(10)

	job.ItemFinished()
	if eta := job.Snapshot().ETASeconds; eta != 0 {
		t.Errorf("ETA with one sample = %v, want 0", eta)
	}

	time.Sleep(5 * time.Millisecond)
	job.ItemFinished()
	if eta := job.Snapshot().ETASeconds; eta <= 0 {
		t.Errorf("ETA with two samples = %v, want > 0", eta)
	}

	for i := 0; i < 8; i++ {
		job.ItemFinished()
	}
	if eta := job.Snapshot().ETASeconds; eta != 0 {
		t.Errorf("ETA with nothing remaining = %v, want 0", eta)
	}
}

func TestJob_SnapshotIsDeepCopy(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	job.Run()
	job.SetTotals(1)
	job.AddWarning("no faces in %s", "owner1_p1")

	snap := job.Snapshot()
	snap.Warnings[0] = "mutated"
	step := snap.Steps[progress.StepDownload]
	step.Done = 99
	snap.Steps[progress.StepDownload] = step

	fresh := job.Snapshot()
	if fresh.Warnings[0] != "no faces in owner1_p1" {
		t.Error("mutating a snapshot changed the job's warnings")
	}
	if fresh.Steps[progress.StepDownload].Done != 0 {
		t.Error("mutating a snapshot changed the job's step counters")
	}
}

func TestJob_MutationsIgnoredAfterTerminal(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	job.Run()
	job.SetTotals(5)
	job.Cancel()

	job.Advance(progress.StepDownload)
	job.ItemFinished()
	job.ItemSkipped()

	snap := job.Snapshot()
	if snap.DoneItems != 0 || snap.Steps[progress.StepDownload].Done != 0 {
		t.Errorf("terminal job mutated: done=%d download=%d", snap.DoneItems, snap.Steps[progress.StepDownload].Done)
	}
}

func TestJob_ConcurrentMutations(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	job.Run()
	job.SetTotals(100)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				job.Advance(progress.StepDownload)
				job.ItemFinished()
				job.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := job.Snapshot()
	if snap.DoneItems != 100 {
		t.Errorf("done items = %d, want 100", snap.DoneItems)
	}
	if snap.Steps[progress.StepDownload].Done != 100 {
		t.Errorf("download step = %d, want 100", snap.Steps[progress.StepDownload].Done)
	}
	if snap.Percent != 100 {
		t.Errorf("percent = %v, want 100", snap.Percent)
	}
}

func TestBroadcaster_DeliversToListeners(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	ch := job.AddListener()

	job.Publish()
	select {
	case ev := <-ch:
		if ev.Type != "progress" {
			t.Errorf("event type = %q, want progress", ev.Type)
		}
	default:
		t.Fatal("expected a buffered event")
	}

	job.RemoveListener(ch)
	if _, open := <-ch; open {
		t.Error("removed listener channel should be closed")
	}
}

func TestBroadcaster_FullListenerDoesNotBlock(t *testing.T) {
	job := progress.NewJob("job-1", "owner1", "folder1")
	ch := job.AddListener()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 300; i++ {
			job.Publish()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishing to a full listener blocked")
	}
	job.RemoveListener(ch)
}

func TestJob_TerminalEventTypes(t *testing.T) {
	cases := []struct {
		name string
		fire func(*progress.Job)
		want string
	}{
		{"completed", func(j *progress.Job) { j.Complete(&progress.Result{}) }, "completed"},
		{"failed", func(j *progress.Job) { j.Fail(errors.New("boom")) }, "failed"},
		{"cancelled", func(j *progress.Job) { j.Cancel() }, "cancelled"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := progress.NewJob("job-1", "owner1", "folder1")
			ch := job.AddListener()
			tc.fire(job)

			select {
			case ev := <-ch:
				if ev.Type != tc.want {
					t.Errorf("event type = %q, want %q", ev.Type, tc.want)
				}
			default:
				t.Fatal("expected a terminal event")
			}
		})
	}
}
