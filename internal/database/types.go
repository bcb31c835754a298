package database

import (
	"time"
)

// StoredFace represents one face embedding stored for a photo.
// A photo is identified by (Owner, PhotoRef); FaceIndex disambiguates
// multiple faces within the same photo.
type StoredFace struct {
	ID        int64
	Owner     string
	PhotoRef  string
	FaceIndex int
	Embedding []float32
	BBox      []float64 // [x1, y1, x2, y2] in raw pixel coordinates
	DetScore  float64
	Model     string
	Dim       int
	CreatedAt time.Time
}

// ProcessedRecord marks a photo as having been run through face detection,
// regardless of whether any faces were found. A record with FaceCount zero
// is how "no faces in this photo" is remembered, so repeat runs skip the
// detector instead of re-invoking it.
type ProcessedRecord struct {
	Owner     string
	PhotoRef  string
	FaceCount int
	CreatedAt time.Time
}

// OwnerExport bundles everything the local tier persists for one owner.
type OwnerExport struct {
	Version   int
	SavedAt   time.Time
	Faces     []StoredFace
	Processed []ProcessedRecord
}

// OwnerExportVersion is the current on-disk format version for owner files.
const OwnerExportVersion = 1
