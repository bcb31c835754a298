package database

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// RemoteErrorHook receives non-fatal remote-tier failures. op names the
// operation (save, exists, fetch); the hook must not block.
type RemoteErrorHook func(op, owner, photoRef string, err error)

// Tiered is the dual-tier embedding store: a fast local tier that is
// authoritative for the running process, write-through to a slower durable
// remote tier. Remote failures on the write path are reported through the
// hook and swallowed; the tiers reconcile later via PushPending. Reads check
// the local tier first and backfill it from remote on a miss.
type Tiered struct {
	local  FaceWriter
	remote FaceWriter // nil when running local-only
	onErr  RemoteErrorHook
}

// NewTiered creates a dual-tier store. remote may be nil.
func NewTiered(local, remote FaceWriter) *Tiered {
	return &Tiered{local: local, remote: remote}
}

// SetRemoteErrorHook installs a hook for non-fatal remote failures.
// Without one, failures are logged.
func (t *Tiered) SetRemoteErrorHook(hook RemoteErrorHook) {
	t.onErr = hook
}

func (t *Tiered) remoteFailed(op, owner, photoRef string, err error) {
	if t.onErr != nil {
		t.onErr(op, owner, photoRef, err)
		return
	}
	log.Printf("warning: remote store %s failed for %s/%s: %v", op, owner, photoRef, err)
}

// SaveFaces writes to the local tier synchronously; a local failure is the
// caller's error and the photo stays unprocessed. The remote write is
// attempted afterwards and its failure is non-fatal.
func (t *Tiered) SaveFaces(ctx context.Context, owner, photoRef string, faces []StoredFace) error {
	if err := t.local.SaveFaces(ctx, owner, photoRef, faces); err != nil {
		return fmt.Errorf("local store save: %w", err)
	}
	if t.remote != nil {
		if err := t.remote.SaveFaces(ctx, owner, photoRef, faces); err != nil {
			t.remoteFailed("save", owner, photoRef, err)
		}
	}
	return nil
}

// IsProcessed reports whether the photo has been through detection. A local
// hit answers immediately; otherwise the remote tier is consulted and, on a
// hit there, the photo's faces are backfilled into the local tier so the
// next check is local.
func (t *Tiered) IsProcessed(ctx context.Context, owner, photoRef string) (bool, error) {
	processed, err := t.local.IsProcessed(ctx, owner, photoRef)
	if err != nil {
		return false, fmt.Errorf("local store check: %w", err)
	}
	if processed || t.remote == nil {
		return processed, nil
	}

	processed, err = t.remote.IsProcessed(ctx, owner, photoRef)
	if err != nil {
		// Remote unavailability must not flip the answer to "unprocessed"
		// being an error; the caller treats the photo as new.
		t.remoteFailed("exists", owner, photoRef, err)
		return false, nil
	}
	if !processed {
		return false, nil
	}

	faces, err := t.remote.GetFaces(ctx, owner, photoRef)
	if err != nil {
		t.remoteFailed("fetch", owner, photoRef, err)
		return true, nil // processed remotely, backfill skipped
	}
	if err := t.local.SaveFaces(ctx, owner, photoRef, faces); err != nil {
		return true, fmt.Errorf("local store backfill: %w", err)
	}
	return true, nil
}

// HasFaces reports whether at least one face is stored for the photo in
// either tier.
func (t *Tiered) HasFaces(ctx context.Context, owner, photoRef string) (bool, error) {
	has, err := t.local.HasFaces(ctx, owner, photoRef)
	if err != nil {
		return false, err
	}
	if has || t.remote == nil {
		return has, nil
	}
	has, err = t.remote.HasFaces(ctx, owner, photoRef)
	if err != nil {
		t.remoteFailed("exists", owner, photoRef, err)
		return false, nil
	}
	return has, nil
}

// GetFaces returns the faces for a photo, reading through to the remote
// tier and backfilling the local one when the photo is unknown locally.
func (t *Tiered) GetFaces(ctx context.Context, owner, photoRef string) ([]StoredFace, error) {
	processed, err := t.local.IsProcessed(ctx, owner, photoRef)
	if err != nil {
		return nil, err
	}
	if processed {
		return t.local.GetFaces(ctx, owner, photoRef)
	}
	if t.remote == nil {
		return nil, nil
	}

	faces, err := t.remote.GetFaces(ctx, owner, photoRef)
	if err != nil {
		return nil, fmt.Errorf("remote store get: %w", err)
	}
	if len(faces) > 0 {
		if err := t.local.SaveFaces(ctx, owner, photoRef, faces); err != nil {
			return nil, fmt.Errorf("local store backfill: %w", err)
		}
	}
	return faces, nil
}

// GetAllFaces returns the owner's whole corpus. When the local tier has
// nothing for the owner it is warmed from remote first, so subsequent scans
// stay local.
func (t *Tiered) GetAllFaces(ctx context.Context, owner string) ([]StoredFace, error) {
	n, err := t.local.CountPhotos(ctx, owner)
	if err != nil {
		return nil, err
	}
	if n == 0 && t.remote != nil {
		if _, err := t.WarmLocal(ctx, owner); err != nil {
			// Warm failure degrades to a direct remote read.
			t.remoteFailed("fetch", owner, "", err)
			return t.remote.GetAllFaces(ctx, owner)
		}
	}
	return t.local.GetAllFaces(ctx, owner)
}

// IsLocalEmpty reports whether the local tier holds nothing for the owner.
func (t *Tiered) IsLocalEmpty(ctx context.Context, owner string) (bool, error) {
	n, err := t.local.CountPhotos(ctx, owner)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// IsProcessedLocal answers the skip-check from the local tier only.
func (t *Tiered) IsProcessedLocal(ctx context.Context, owner, photoRef string) (bool, error) {
	return t.local.IsProcessed(ctx, owner, photoRef)
}

// CountFaces reports the owner's face count from the local tier, falling
// back to remote when the local tier is empty.
func (t *Tiered) CountFaces(ctx context.Context, owner string) (int, error) {
	n, err := t.local.CountFaces(ctx, owner)
	if err != nil {
		return 0, err
	}
	if n > 0 || t.remote == nil {
		return n, nil
	}
	return t.remote.CountFaces(ctx, owner)
}

// CountPhotos reports the owner's processed-photo count from the local
// tier, falling back to remote when the local tier is empty.
func (t *Tiered) CountPhotos(ctx context.Context, owner string) (int, error) {
	n, err := t.local.CountPhotos(ctx, owner)
	if err != nil {
		return 0, err
	}
	if n > 0 || t.remote == nil {
		return n, nil
	}
	return t.remote.CountPhotos(ctx, owner)
}

// ListProcessed lists processed records from the local tier, falling back
// to remote when the local tier is empty.
func (t *Tiered) ListProcessed(ctx context.Context, owner string) ([]ProcessedRecord, error) {
	recs, err := t.local.ListProcessed(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 || t.remote == nil {
		return recs, nil
	}
	return t.remote.ListProcessed(ctx, owner)
}

// DeleteFaces removes a photo from both tiers. The local delete must
// succeed; a remote delete failure is returned so the caller knows the
// tiers diverged.
func (t *Tiered) DeleteFaces(ctx context.Context, owner, photoRef string) error {
	if err := t.local.DeleteFaces(ctx, owner, photoRef); err != nil {
		return fmt.Errorf("local store delete: %w", err)
	}
	if t.remote != nil {
		if err := t.remote.DeleteFaces(ctx, owner, photoRef); err != nil {
			return fmt.Errorf("remote store delete: %w", err)
		}
	}
	return nil
}

// DeleteOwner removes all of an owner's data from both tiers.
func (t *Tiered) DeleteOwner(ctx context.Context, owner string) (int, error) {
	n, err := t.local.DeleteOwner(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("local store delete owner: %w", err)
	}
	if t.remote != nil {
		rn, err := t.remote.DeleteOwner(ctx, owner)
		if err != nil {
			return n, fmt.Errorf("remote store delete owner: %w", err)
		}
		if rn > n {
			n = rn
		}
	}
	return n, nil
}

// FindSimilarWithDistance searches the owner's corpus for faces within
// maxDistance of the query. The local tier answers when it has data; an
// empty local tier is warmed from remote first, and if warming fails the
// query degrades to the remote backend's native search.
func (t *Tiered) FindSimilarWithDistance(
	ctx context.Context, owner string, embedding []float32, maxDistance float64, limit int,
) ([]StoredFace, []float64, error) {
	empty, err := t.IsLocalEmpty(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	if empty {
		if t.remote == nil {
			return nil, nil, nil
		}
		if _, err := t.WarmLocal(ctx, owner); err != nil {
			t.remoteFailed("fetch", owner, "", err)
			if finder, ok := t.remote.(SimilarityFinder); ok {
				return finder.FindSimilarWithDistance(ctx, owner, embedding, maxDistance, limit)
			}
			return scanSimilar(ctx, t.remote, owner, embedding, maxDistance, limit)
		}
	}

	if finder, ok := t.local.(SimilarityFinder); ok {
		return finder.FindSimilarWithDistance(ctx, owner, embedding, maxDistance, limit)
	}
	return scanSimilar(ctx, t.local, owner, embedding, maxDistance, limit)
}

// scanSimilar is the exact-scan fallback for backends without native
// nearest-neighbor search.
func scanSimilar(
	ctx context.Context, r FaceReader, owner string, embedding []float32, maxDistance float64, limit int,
) ([]StoredFace, []float64, error) {
	all, err := r.GetAllFaces(ctx, owner)
	if err != nil {
		return nil, nil, err
	}

	type scored struct {
		face StoredFace
		dist float64
	}
	matches := make([]scored, 0, len(all))
	for i := range all {
		d := CosineDistance(embedding, all[i].Embedding)
		if d <= maxDistance {
			matches = append(matches, scored{face: all[i], dist: d})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	faces := make([]StoredFace, len(matches))
	dists := make([]float64, len(matches))
	for i, m := range matches {
		faces[i] = m.face
		dists[i] = m.dist
	}
	return faces, dists, nil
}

// WarmLocal copies the owner's corpus from the remote tier into the local
// tier, including zero-face processed records. Returns the number of photos
// warmed.
func (t *Tiered) WarmLocal(ctx context.Context, owner string) (int, error) {
	if t.remote == nil {
		return 0, fmt.Errorf("no remote store configured")
	}

	records, err := t.remote.ListProcessed(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("list remote processed: %w", err)
	}
	faces, err := t.remote.GetAllFaces(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("fetch remote faces: %w", err)
	}

	byPhoto := make(map[string][]StoredFace)
	for _, f := range faces {
		byPhoto[f.PhotoRef] = append(byPhoto[f.PhotoRef], f)
	}

	warmed := 0
	for _, rec := range records {
		if err := t.local.SaveFaces(ctx, owner, rec.PhotoRef, byPhoto[rec.PhotoRef]); err != nil {
			return warmed, fmt.Errorf("warm %s: %w", rec.PhotoRef, err)
		}
		warmed++
	}
	return warmed, nil
}

// PushPending writes photos that exist only in the local tier to the remote
// tier. This is the reconciliation pass for earlier remote write failures.
// Returns the number of photos pushed.
func (t *Tiered) PushPending(ctx context.Context, owner string) (int, error) {
	if t.remote == nil {
		return 0, fmt.Errorf("no remote store configured")
	}

	localRecs, err := t.local.ListProcessed(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("list local processed: %w", err)
	}

	pushed := 0
	for _, rec := range localRecs {
		processed, err := t.remote.IsProcessed(ctx, owner, rec.PhotoRef)
		if err != nil {
			return pushed, fmt.Errorf("check remote %s: %w", rec.PhotoRef, err)
		}
		if processed {
			continue
		}
		faces, err := t.local.GetFaces(ctx, owner, rec.PhotoRef)
		if err != nil {
			return pushed, fmt.Errorf("read local %s: %w", rec.PhotoRef, err)
		}
		if err := t.remote.SaveFaces(ctx, owner, rec.PhotoRef, faces); err != nil {
			return pushed, fmt.Errorf("push %s: %w", rec.PhotoRef, err)
		}
		pushed++
	}
	return pushed, nil
}

// Verify interface compliance.
var _ FaceReader = (*Tiered)(nil)
var _ SimilarityFinder = (*Tiered)(nil)
