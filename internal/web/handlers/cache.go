package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/contentcache"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/processor"
)

// CacheHandler exposes content-cache statistics and clearing.
type CacheHandler struct {
	cache   *contentcache.Cache
	folders *processor.FolderState
	store   database.FaceReader
}

// NewCacheHandler creates a cache handler. folders may be nil when folder
// state is disabled.
func NewCacheHandler(cache *contentcache.Cache, folders *processor.FolderState, store database.FaceReader) *CacheHandler {
	return &CacheHandler{cache: cache, folders: folders, store: store}
}

// Stats reports the owner's content-cache usage and embedding-store counts.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		respondError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}

	stats, err := h.cache.Stats(owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	photos, err := h.store.CountPhotos(r.Context(), owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	faces, err := h.store.CountFaces(r.Context(), owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"owner": owner,
		"cache": stats,
		"store": map[string]int{
			"photos": photos,
			"faces":  faces,
		},
	})
}

// Clear drops the owner's cached downloads and folder fingerprints. Stored
// embeddings stay; the next run re-downloads but does not re-embed.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if owner == "" {
		respondError(w, http.StatusBadRequest, "missing owner")
		return
	}

	if err := h.cache.Clear(owner, ""); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	foldersCleared := 0
	if h.folders != nil {
		n, err := h.folders.Clear(owner)
		if err != nil {
			log.Printf("clearing folder state for %s failed: %v", sanitizeForLog(owner), err)
		}
		foldersCleared = n
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"owner":           owner,
		"folders_cleared": foldersCleared,
	})
}
