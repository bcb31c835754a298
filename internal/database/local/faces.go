package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
)

// FaceRepository provides file-backed face storage over a Store.
type FaceRepository struct {
	store *Store
}

// NewFaceRepository creates a face repository backed by the given store.
func NewFaceRepository(store *Store) *FaceRepository {
	return &FaceRepository{store: store}
}

// SaveFaces stores the faces for a photo, replacing any previous faces, and
// marks the photo processed. An empty slice records a photo where detection
// ran and found no faces.
func (r *FaceRepository) SaveFaces(ctx context.Context, owner, photoRef string, faces []database.StoredFace) error {
	if owner == "" {
		return errors.New("owner is required")
	}
	if photoRef == "" {
		return errors.New("photo reference is required")
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return err
	}

	if s.index != nil {
		for _, old := range st.faces[photoRef] {
			s.index.Delete(old.ID)
		}
	}
	delete(st.faces, photoRef)

	now := time.Now().UTC()
	stored := make([]database.StoredFace, len(faces))
	for i, f := range faces {
		f.Owner = owner
		f.PhotoRef = photoRef
		if f.ID == 0 {
			st.maxID++
			f.ID = st.maxID
		} else if f.ID > st.maxID {
			st.maxID = f.ID
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		stored[i] = f
	}
	if len(stored) > 0 {
		st.faces[photoRef] = stored
	}
	st.processed[photoRef] = database.ProcessedRecord{
		Owner:     owner,
		PhotoRef:  photoRef,
		FaceCount: len(stored),
		CreatedAt: now,
	}

	if err := s.persistOwnerLocked(owner, st); err != nil {
		return err
	}

	if s.index != nil {
		for i := range stored {
			s.index.Add(&stored[i])
		}
	}
	return nil
}

// GetFaces retrieves all faces for a photo, ordered by face index.
func (r *FaceRepository) GetFaces(ctx context.Context, owner, photoRef string) ([]database.StoredFace, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return nil, err
	}

	faces := make([]database.StoredFace, len(st.faces[photoRef]))
	copy(faces, st.faces[photoRef])
	sort.Slice(faces, func(i, j int) bool { return faces[i].FaceIndex < faces[j].FaceIndex })
	return faces, nil
}

// GetAllFaces retrieves every face stored for an owner.
func (r *FaceRepository) GetAllFaces(ctx context.Context, owner string) ([]database.StoredFace, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return nil, err
	}

	var faces []database.StoredFace
	for _, refFaces := range st.faces {
		faces = append(faces, refFaces...)
	}
	sort.Slice(faces, func(i, j int) bool { return faces[i].ID < faces[j].ID })
	return faces, nil
}

// HasFaces checks if at least one face is stored for a photo.
func (r *FaceRepository) HasFaces(ctx context.Context, owner, photoRef string) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return false, err
	}
	return len(st.faces[photoRef]) > 0, nil
}

// IsProcessed checks if face detection has been run for a photo.
func (r *FaceRepository) IsProcessed(ctx context.Context, owner, photoRef string) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return false, err
	}
	_, ok := st.processed[photoRef]
	return ok, nil
}

// CountFaces returns the total number of faces stored for an owner.
func (r *FaceRepository) CountFaces(ctx context.Context, owner string) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, refFaces := range st.faces {
		n += len(refFaces)
	}
	return n, nil
}

// CountPhotos returns the number of distinct processed photos for an owner.
func (r *FaceRepository) CountPhotos(ctx context.Context, owner string) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return 0, err
	}
	return len(st.processed), nil
}

// ListProcessed returns the processed-photo records for an owner, oldest
// first.
func (r *FaceRepository) ListProcessed(ctx context.Context, owner string) ([]database.ProcessedRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return nil, err
	}

	records := make([]database.ProcessedRecord, 0, len(st.processed))
	for _, rec := range st.processed {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].PhotoRef < records[j].PhotoRef
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// DeleteFaces removes the faces and the processed record for a photo.
func (r *FaceRepository) DeleteFaces(ctx context.Context, owner, photoRef string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return err
	}

	if s.index != nil {
		for _, f := range st.faces[photoRef] {
			s.index.Delete(f.ID)
		}
	}
	delete(st.faces, photoRef)
	delete(st.processed, photoRef)

	return s.persistOwnerLocked(owner, st)
}

// DeleteOwner removes all data stored for an owner. Returns the number of
// photos removed.
func (r *FaceRepository) DeleteOwner(ctx context.Context, owner string) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		return 0, err
	}

	removed := len(st.processed)
	if s.index != nil {
		for _, refFaces := range st.faces {
			for _, f := range refFaces {
				s.index.Delete(f.ID)
			}
		}
	}
	delete(s.owners, owner)
	if err := os.Remove(s.ownerPath(owner)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove owner file: %w", err)
	}
	return removed, nil
}

// FindSimilarWithDistance finds faces within maxDistance of the query
// embedding, ordered by ascending distance. The HNSW index answers when
// enabled; otherwise every face of the owner is scanned.
func (r *FaceRepository) FindSimilarWithDistance(
	ctx context.Context, owner string, embedding []float32, maxDistance float64, limit int,
) ([]database.StoredFace, []float64, error) {
	s := r.store
	s.mu.Lock()
	st, err := s.loadOwnerLocked(owner)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	index := s.index
	total := 0
	for _, refFaces := range st.faces {
		total += len(refFaces)
	}
	s.mu.Unlock()

	if index != nil && !index.IsEmpty() {
		faces, dists, err := r.searchIndex(index, owner, embedding, maxDistance, limit)
		if err == nil {
			return faces, dists, nil
		}
		// Fall through to the exact scan on index errors.
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err = s.loadOwnerLocked(owner)
	if err != nil {
		return nil, nil, err
	}

	type scored struct {
		face database.StoredFace
		dist float64
	}
	matches := make([]scored, 0, total)
	for _, refFaces := range st.faces {
		for _, f := range refFaces {
			d := database.CosineDistance(embedding, f.Embedding)
			if d <= maxDistance {
				matches = append(matches, scored{face: f, dist: d})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	faces := make([]database.StoredFace, len(matches))
	dists := make([]float64, len(matches))
	for i, m := range matches {
		faces[i] = m.face
		dists[i] = m.dist
	}
	return faces, dists, nil
}

// searchIndex queries the shared HNSW graph. The graph spans all owners, so
// the candidate set is over-fetched and filtered down to the requested
// owner afterwards. An unlimited query visits the whole graph so nothing
// inside maxDistance is missed.
func (r *FaceRepository) searchIndex(
	index *database.HNSWIndex, owner string, embedding []float32, maxDistance float64, limit int,
) ([]database.StoredFace, []float64, error) {
	total := index.Count()
	k := total
	if limit > 0 {
		k = limit * database.HNSWSearchMultiplier
		if k < database.HNSWMinSearchK {
			k = database.HNSWMinSearchK
		}
		if k > total {
			k = total
		}
	}
	if k == 0 {
		return nil, nil, nil
	}

	ids, dists, err := index.Search(embedding, k)
	if err != nil {
		return nil, nil, err
	}

	type scored struct {
		face database.StoredFace
		dist float64
	}
	matches := make([]scored, 0, len(ids))
	for i, id := range ids {
		face := index.GetFace(id)
		if face == nil || face.Owner != owner {
			continue
		}
		if dists[i] > maxDistance {
			continue
		}
		matches = append(matches, scored{face: *face, dist: dists[i]})
	}
	// Re-sort on the recomputed exact distances; the graph's own ordering
	// can disagree near ties.
	sort.Slice(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	faces := make([]database.StoredFace, len(matches))
	distances := make([]float64, len(matches))
	for i, m := range matches {
		faces[i] = m.face
		distances[i] = m.dist
	}
	return faces, distances, nil
}

// Verify interface compliance.
var _ database.FaceWriter = (*FaceRepository)(nil)
var _ database.SimilarityFinder = (*FaceRepository)(nil)
