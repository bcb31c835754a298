// Package search ranks stored face embeddings against query embeddings
// using cosine similarity with named threshold tiers.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/fingerprint"
)

// ErrNoQueryFaces is returned when a query image contains no detectable face.
var ErrNoQueryFaces = errors.New("no face found in the query image")

// Options controls a search: a named tier or a raw similarity threshold,
// plus an optional result cap.
type Options struct {
	Tier         string  // strict, standard or loose; empty means the default tier
	RawThreshold float64 // overrides Tier when > 0
	Limit        int     // maximum results; 0 means unlimited
}

// threshold resolves the effective similarity cutoff for the options.
func (o Options) threshold() (float64, error) {
	if o.RawThreshold > 0 {
		if o.RawThreshold > 1 {
			return 0, fmt.Errorf("similarity threshold %v out of range (0, 1]", o.RawThreshold)
		}
		return o.RawThreshold, nil
	}
	return Threshold(o.Tier)
}

// Match is one photo in a search result. A photo with several matching
// faces appears once with its best score.
type Match struct {
	PhotoRef   string  `json:"photo_ref"`
	Similarity float64 `json:"similarity"`
}

// Embedder detects faces in an image and returns one embedding per face.
type Embedder interface {
	DetectAndEmbed(ctx context.Context, imageData []byte) ([]fingerprint.FaceVector, error)
}

// Engine answers similarity queries over an owner's stored embeddings.
type Engine struct {
	store    database.SimilarityFinder
	embedder Embedder
}

// NewEngine creates a search engine over the given store. The embedder is
// only needed for SearchByImage and may be nil otherwise.
func NewEngine(store database.SimilarityFinder, embedder Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// Search ranks the owner's photos against the query embeddings. A photo
// matches when any of its stored faces reaches the threshold against any
// query; the photo scores its best such similarity. Results are sorted by
// score descending, ties broken by photo reference.
func (e *Engine) Search(ctx context.Context, owner string, queries [][]float32, opt Options) ([]Match, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("search needs at least one query embedding")
	}
	threshold, err := opt.threshold()
	if err != nil {
		return nil, err
	}

	// Similarity s and cosine distance d relate as s = 1 - d, so the
	// similarity cutoff becomes a distance ceiling for the store scan.
	maxDistance := 1 - threshold

	best := make(map[string]float64)
	for _, query := range queries {
		faces, distances, err := e.store.FindSimilarWithDistance(ctx, owner, query, maxDistance, 0)
		if err != nil {
			return nil, fmt.Errorf("similarity scan failed: %w", err)
		}
		for i, face := range faces {
			similarity := 1 - distances[i]
			if prev, ok := best[face.PhotoRef]; !ok || similarity > prev {
				best[face.PhotoRef] = similarity
			}
		}
	}

	matches := make([]Match, 0, len(best))
	for ref, similarity := range best {
		matches = append(matches, Match{PhotoRef: ref, Similarity: similarity})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].PhotoRef < matches[j].PhotoRef
	})

	if opt.Limit > 0 && len(matches) > opt.Limit {
		matches = matches[:opt.Limit]
	}
	return matches, nil
}

// SearchByImage runs the image through the embedding producer and searches
// with every detected face as a query, so a reference photo with several
// faces widens the query instead of failing.
func (e *Engine) SearchByImage(ctx context.Context, owner string, imageData []byte, opt Options) ([]Match, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedding producer configured")
	}
	faces, err := e.embedder.DetectAndEmbed(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("embedding query image failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoQueryFaces
	}

	queries := make([][]float32, 0, len(faces))
	for _, face := range faces {
		queries = append(queries, face.Embedding)
	}
	return e.Search(ctx, owner, queries, opt)
}
