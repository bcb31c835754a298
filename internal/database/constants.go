package database

// DefaultEmbeddingDim is the vector dimension produced by the default
// recognition model (buffalo_l). Stored per face so corpora from different
// models can coexist; vectors of mismatched dimensions never match.
const DefaultEmbeddingDim = 512

// HNSW index parameters for face embeddings.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure enough remain after distance and owner filtering.
	HNSWSearchMultiplier = 3

	// HNSWMinSearchK is the floor for the candidate pool per search.
	HNSWMinSearchK = 100
)
