// Package processor orchestrates a processing run: list the source folder,
// work out the delta against the content cache and the embedding store,
// then download, embed and store only what is new. Every per-file failure
// is isolated; one bad photo never aborts the batch.
package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/contentcache"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/drive"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/fingerprint"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

// cacheScope is the content-cache scope photo downloads live under.
const cacheScope = "photos"

// Source lists a folder and streams file content. *drive.Client implements it.
type Source interface {
	ListFolder(ctx context.Context, folderID string, recursive bool, maxDepth int) ([]drive.File, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Store is the embedding-store surface the processor needs: the skip check
// and the write. database.Tiered implements it.
type Store interface {
	IsProcessed(ctx context.Context, owner, photoRef string) (bool, error)
	SaveFaces(ctx context.Context, owner, photoRef string, faces []database.StoredFace) error
}

// Producer turns image bytes into face vectors. fingerprint.Client implements it.
type Producer interface {
	DetectAndEmbed(ctx context.Context, imageData []byte) ([]fingerprint.FaceVector, error)
}

// Config controls one processing run.
type Config struct {
	Concurrency    int           // simultaneous in-flight files (default 10)
	ItemTimeout    time.Duration // per-file time limit covering fetch and embed (0 disables)
	MaxDepth       int           // folder recursion limit, 0 for the drive default
	ForceReprocess bool          // ignore the embedding-store skip check
	ForceRefetch   bool          // re-download files even when cached
}

const defaultConcurrency = 10

// Processor drives processing runs against a source folder.
type Processor struct {
	source   Source
	cache    *contentcache.Cache
	store    Store
	producer Producer
	folders  *FolderState // optional, nil disables the folder short-circuit
	cfg      Config
}

// New creates a processor. folders may be nil to disable the unchanged-folder
// short-circuit.
func New(source Source, cache *contentcache.Cache, store Store, producer Producer, folders *FolderState, cfg Config) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Processor{
		source:   source,
		cache:    cache,
		store:    store,
		producer: producer,
		folders:  folders,
		cfg:      cfg,
	}
}

// PhotoRef builds the stable photo reference for an owner's source file.
func PhotoRef(owner, fileID string) string {
	return owner + "_" + fileID
}

// runCounters aggregates worker results. Mutated with atomics only.
type runCounters struct {
	downloaded int64
	embedded   int64
	skipped    int64
	failed     int64
	facesFound int64
}

// Run executes a processing run for the job's owner and folder. The job is
// updated throughout; Run only returns an error when the run could not start
// or was torn down by context cancellation. Per-item failures end up in the
// job's error and warning lists instead.
func (p *Processor) Run(ctx context.Context, job *progress.Job) error {
	owner, folderID := job.Owner(), job.FolderID()
	job.Run()

	files, err := p.source.ListFolder(ctx, folderID, true, p.cfg.MaxDepth)
	if err != nil {
		err = fmt.Errorf("listing folder %s failed: %w", folderID, err)
		job.Fail(err)
		return err
	}
	images := drive.FilterImages(files)

	job.SetTotals(len(images))
	job.Publish()

	// Unchanged folder and nothing forced: every file would pass the skip
	// check anyway, so skip the per-file work wholesale.
	if p.folders != nil && !p.cfg.ForceReprocess && !p.cfg.ForceRefetch &&
		p.folders.Unchanged(owner, folderID, images) {
		for range images {
			job.ItemSkipped()
		}
		job.Complete(&progress.Result{
			TotalCount:   len(images),
			SkippedCount: len(images),
		})
		return nil
	}

	var counters runCounters
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, file := range images {
		sem <- struct{}{}

		// Between items is where cancellation takes effect: in-flight
		// files finish, no new ones start.
		if job.Status() != progress.StatusRunning || ctx.Err() != nil {
			<-sem
			break
		}

		wg.Add(1)
		go func(f drive.File) {
			defer wg.Done()
			defer func() { <-sem }()
			p.processFile(ctx, job, owner, f, &counters)
		}(file)
	}

	wg.Wait()

	if ctx.Err() != nil && !job.Status().Terminal() {
		if p.folders != nil {
			p.folders.Forget(owner, folderID)
		}
		job.Fail(ctx.Err())
		return ctx.Err()
	}

	if job.Status() == progress.StatusCancelled {
		if p.folders != nil {
			p.folders.Forget(owner, folderID)
		}
		return nil
	}

	res := &progress.Result{
		TotalCount:      len(images),
		DownloadedCount: int(atomic.LoadInt64(&counters.downloaded)),
		EmbeddedCount:   int(atomic.LoadInt64(&counters.embedded)),
		SkippedCount:    int(atomic.LoadInt64(&counters.skipped)),
		FailedCount:     int(atomic.LoadInt64(&counters.failed)),
		FacesFound:      int(atomic.LoadInt64(&counters.facesFound)),
	}

	if p.folders != nil {
		if res.FailedCount == 0 {
			if err := p.folders.Save(owner, folderID, images, res); err != nil {
				job.AddWarning("saving folder state failed: %v", err)
			}
		} else {
			// Failed items must be retried next run, so the folder cannot
			// short-circuit until a clean pass.
			p.folders.Forget(owner, folderID)
		}
	}

	job.Complete(res)
	return nil
}

// processFile runs the full pipeline for one file: fetch into the cache,
// skip check, detect and embed, store.
func (p *Processor) processFile(ctx context.Context, job *progress.Job, owner string, f drive.File, c *runCounters) {
	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
		defer cancel()
	}

	photoRef := PhotoRef(owner, f.ID)
	src := contentcache.SourceFile{ID: f.ID, Name: f.Name, Size: f.Size, ModifiedTime: f.ModifiedTime}

	cached := p.cache.Exists(owner, cacheScope, src)
	var path string
	var err error
	if p.cfg.ForceRefetch {
		path, err = p.cache.ForceRefetch(ctx, owner, cacheScope, src, p.source)
		cached = false
	} else {
		path, err = p.cache.Fetch(ctx, owner, cacheScope, src, p.source)
	}
	if err != nil {
		atomic.AddInt64(&c.failed, 1)
		job.AddError("download failed for %s (%s): %v", f.Name, photoRef, err)
		job.ItemFinished()
		job.Publish()
		return
	}
	if !cached {
		atomic.AddInt64(&c.downloaded, 1)
	}

	// Skip photos that are already embedded unless the run forces a redo.
	// A store that cannot answer counts as unprocessed; re-embedding is
	// idempotent, so the worst case is wasted work, not wrong data.
	if !p.cfg.ForceReprocess {
		processed, perr := p.store.IsProcessed(ctx, owner, photoRef)
		if perr == nil && processed {
			atomic.AddInt64(&c.skipped, 1)
			job.ItemSkipped()
			job.Publish()
			return
		}
	}

	job.Advance(progress.StepDownload)

	data, err := os.ReadFile(path)
	if err != nil {
		atomic.AddInt64(&c.failed, 1)
		job.AddError("unreadable cached file for %s: %v", photoRef, err)
		job.ItemFinished()
		job.Publish()
		return
	}

	faces, err := p.producer.DetectAndEmbed(ctx, data)
	if err != nil {
		// Engine trouble is a per-item warning; the photo stays unprocessed
		// and gets retried on the next run.
		atomic.AddInt64(&c.failed, 1)
		job.AddWarning("face detection failed for %s (%s): %v", f.Name, photoRef, err)
		job.ItemFinished()
		job.Publish()
		return
	}
	job.Advance(progress.StepDetect)
	job.Advance(progress.StepEmbed)

	if len(faces) == 0 {
		// Still stored below: an explicit empty set marks the photo
		// processed so future runs skip it.
		job.AddWarning("no faces found in %s (%s)", f.Name, photoRef)
	}

	stored := make([]database.StoredFace, 0, len(faces))
	for _, face := range faces {
		stored = append(stored, database.StoredFace{
			Owner:     owner,
			PhotoRef:  photoRef,
			FaceIndex: face.FaceIndex,
			Embedding: face.Embedding,
			BBox:      face.BBox,
			DetScore:  face.DetScore,
			Model:     face.Model,
			Dim:       face.Dim,
		})
	}

	if err := p.store.SaveFaces(ctx, owner, photoRef, stored); err != nil {
		atomic.AddInt64(&c.failed, 1)
		job.AddError("storing faces failed for %s: %v", photoRef, err)
		job.ItemFinished()
		job.Publish()
		return
	}
	job.Advance(progress.StepStore)

	atomic.AddInt64(&c.embedded, 1)
	atomic.AddInt64(&c.facesFound, int64(len(faces)))
	job.ItemFinished()
	job.Publish()
}
