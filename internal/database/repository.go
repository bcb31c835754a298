package database

import (
	"context"
)

// FaceReader provides read-only access to face embeddings.
type FaceReader interface {
	// GetFaces retrieves all faces for a photo, ordered by face index.
	// Returns an empty slice for a processed photo with no faces.
	GetFaces(ctx context.Context, owner, photoRef string) ([]StoredFace, error)
	// GetAllFaces retrieves every face stored for an owner.
	GetAllFaces(ctx context.Context, owner string) ([]StoredFace, error)
	// HasFaces checks if at least one face is stored for a photo.
	HasFaces(ctx context.Context, owner, photoRef string) (bool, error)
	// IsProcessed checks if face detection has been run for a photo,
	// regardless of whether faces were found.
	IsProcessed(ctx context.Context, owner, photoRef string) (bool, error)
	// CountFaces returns the total number of faces stored for an owner.
	CountFaces(ctx context.Context, owner string) (int, error)
	// CountPhotos returns the number of distinct processed photos for an owner.
	CountPhotos(ctx context.Context, owner string) (int, error)
	// ListProcessed returns the processed-photo records for an owner.
	ListProcessed(ctx context.Context, owner string) ([]ProcessedRecord, error)
}

// FaceWriter provides write access to face embeddings.
type FaceWriter interface {
	FaceReader

	// SaveFaces stores the faces for a photo, replacing any existing faces
	// for that photo, and marks the photo processed. An empty slice is a
	// valid save: it records that detection ran and found nothing.
	SaveFaces(ctx context.Context, owner, photoRef string, faces []StoredFace) error

	// DeleteFaces removes the faces and the processed record for a photo,
	// making it eligible for reprocessing.
	DeleteFaces(ctx context.Context, owner, photoRef string) error

	// DeleteOwner removes all data stored for an owner. Returns the number
	// of photos removed.
	DeleteOwner(ctx context.Context, owner string) (int, error)
}

// SimilarityFinder is implemented by backends with native nearest-neighbor
// search. Distance is cosine distance (0 identical, 2 opposite); matches at
// exactly maxDistance are included and results are ordered ascending by
// distance. A non-positive limit means no limit.
type SimilarityFinder interface {
	FindSimilarWithDistance(
		ctx context.Context, owner string, embedding []float32, maxDistance float64, limit int,
	) ([]StoredFace, []float64, error)
}
