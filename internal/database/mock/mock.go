// Package mock provides in-memory fakes of the database interfaces for
// testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
)

// MockFaceStore is an in-memory FaceWriter with error injection and call
// recording, used to stand in for either store tier in tests.
type MockFaceStore struct {
	mu        sync.RWMutex
	faces     map[string]map[string][]database.StoredFace    // owner → photoRef → faces
	processed map[string]map[string]database.ProcessedRecord // owner → photoRef → record
	nextID    int64

	// Error injection
	SaveFacesError     error
	GetFacesError      error
	GetAllFacesError   error
	HasFacesError      error
	IsProcessedError   error
	CountError         error
	ListProcessedError error
	DeleteError        error
	FindSimilarError   error

	// Recorded calls
	SaveCalls []SaveFacesCall
}

// SaveFacesCall records a call to SaveFaces.
type SaveFacesCall struct {
	Owner    string
	PhotoRef string
	Faces    []database.StoredFace
}

// NewMockFaceStore creates a new empty mock store.
func NewMockFaceStore() *MockFaceStore {
	return &MockFaceStore{
		faces:     make(map[string]map[string][]database.StoredFace),
		processed: make(map[string]map[string]database.ProcessedRecord),
	}
}

// AddFaces seeds faces for a photo and marks it processed.
func (m *MockFaceStore) AddFaces(owner, photoRef string, faces []database.StoredFace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocked(owner, photoRef, faces)
}

func (m *MockFaceStore) storeLocked(owner, photoRef string, faces []database.StoredFace) {
	if m.faces[owner] == nil {
		m.faces[owner] = make(map[string][]database.StoredFace)
		m.processed[owner] = make(map[string]database.ProcessedRecord)
	}

	stored := make([]database.StoredFace, len(faces))
	for i, f := range faces {
		f.Owner = owner
		f.PhotoRef = photoRef
		if f.ID == 0 {
			m.nextID++
			f.ID = m.nextID
		} else if f.ID > m.nextID {
			m.nextID = f.ID
		}
		stored[i] = f
	}

	if len(stored) > 0 {
		m.faces[owner][photoRef] = stored
	} else {
		delete(m.faces[owner], photoRef)
	}
	m.processed[owner][photoRef] = database.ProcessedRecord{
		Owner:     owner,
		PhotoRef:  photoRef,
		FaceCount: len(stored),
		CreatedAt: time.Now().UTC(),
	}
}

// SaveFaces stores faces for a photo, replacing existing ones.
func (m *MockFaceStore) SaveFaces(ctx context.Context, owner, photoRef string, faces []database.StoredFace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls = append(m.SaveCalls, SaveFacesCall{Owner: owner, PhotoRef: photoRef, Faces: faces})
	if m.SaveFacesError != nil {
		return m.SaveFacesError
	}
	m.storeLocked(owner, photoRef, faces)
	return nil
}

// GetFaces retrieves all faces for a photo, ordered by face index.
func (m *MockFaceStore) GetFaces(ctx context.Context, owner, photoRef string) ([]database.StoredFace, error) {
	if m.GetFacesError != nil {
		return nil, m.GetFacesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	faces := make([]database.StoredFace, len(m.faces[owner][photoRef]))
	copy(faces, m.faces[owner][photoRef])
	sort.Slice(faces, func(i, j int) bool { return faces[i].FaceIndex < faces[j].FaceIndex })
	return faces, nil
}

// GetAllFaces retrieves every face stored for an owner.
func (m *MockFaceStore) GetAllFaces(ctx context.Context, owner string) ([]database.StoredFace, error) {
	if m.GetAllFacesError != nil {
		return nil, m.GetAllFacesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []database.StoredFace
	for _, faces := range m.faces[owner] {
		all = append(all, faces...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// HasFaces checks if at least one face is stored for a photo.
func (m *MockFaceStore) HasFaces(ctx context.Context, owner, photoRef string) (bool, error) {
	if m.HasFacesError != nil {
		return false, m.HasFacesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.faces[owner][photoRef]) > 0, nil
}

// IsProcessed checks if face detection has been run for a photo.
func (m *MockFaceStore) IsProcessed(ctx context.Context, owner, photoRef string) (bool, error) {
	if m.IsProcessedError != nil {
		return false, m.IsProcessedError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.processed[owner][photoRef]
	return ok, nil
}

// CountFaces returns the total number of faces stored for an owner.
func (m *MockFaceStore) CountFaces(ctx context.Context, owner string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, faces := range m.faces[owner] {
		count += len(faces)
	}
	return count, nil
}

// CountPhotos returns the number of distinct processed photos for an owner.
func (m *MockFaceStore) CountPhotos(ctx context.Context, owner string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.processed[owner]), nil
}

// ListProcessed returns the processed-photo records for an owner.
func (m *MockFaceStore) ListProcessed(ctx context.Context, owner string) ([]database.ProcessedRecord, error) {
	if m.ListProcessedError != nil {
		return nil, m.ListProcessedError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]database.ProcessedRecord, 0, len(m.processed[owner]))
	for _, rec := range m.processed[owner] {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PhotoRef < records[j].PhotoRef })
	return records, nil
}

// DeleteFaces removes the faces and processed record for a photo.
func (m *MockFaceStore) DeleteFaces(ctx context.Context, owner, photoRef string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.faces[owner], photoRef)
	delete(m.processed[owner], photoRef)
	return nil
}

// DeleteOwner removes all data stored for an owner.
func (m *MockFaceStore) DeleteOwner(ctx context.Context, owner string) (int, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := len(m.processed[owner])
	delete(m.faces, owner)
	delete(m.processed, owner)
	return removed, nil
}

// FindSimilarWithDistance scans the owner's faces for embeddings within
// maxDistance, ordered by ascending cosine distance.
func (m *MockFaceStore) FindSimilarWithDistance(
	ctx context.Context, owner string, embedding []float32, maxDistance float64, limit int,
) ([]database.StoredFace, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		face database.StoredFace
		dist float64
	}
	var matches []scored
	for _, faces := range m.faces[owner] {
		for _, f := range faces {
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
	for i, s := range matches {
		faces[i] = s.face
		dists[i] = s.dist
	}
	return faces, dists, nil
}

// Verify interface compliance.
var _ database.FaceWriter = (*MockFaceStore)(nil)
var _ database.SimilarityFinder = (*MockFaceStore)(nil)
