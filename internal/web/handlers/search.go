package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/fingerprint"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/search"
)

// maxQueryImageBytes bounds an uploaded reference photo.
const maxQueryImageBytes = 32 << 20

// SearchHandler answers similarity queries over an owner's embeddings.
type SearchHandler struct {
	engine *search.Engine
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// searchRequest is the JSON body of POST /api/search.
type searchRequest struct {
	Owner      string      `json:"owner"`
	Tier       string      `json:"tier"`
	Threshold  float64     `json:"threshold"`
	Limit      int         `json:"limit"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Search ranks an owner's photos against a query. The query arrives either
// as a multipart image upload or as raw embeddings in a JSON body.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.searchByImage(w, r)
		return
	}
	h.searchByEmbeddings(w, r)
}

func (h *SearchHandler) searchByEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	opt, ok := h.validate(w, req.Owner, req.Tier, req.Threshold, req.Limit)
	if !ok {
		return
	}
	if len(req.Embeddings) == 0 {
		respondError(w, http.StatusBadRequest, "embeddings are required")
		return
	}

	matches, err := h.engine.Search(r.Context(), req.Owner, req.Embeddings, opt)
	if err != nil {
		respondSearchError(w, err)
		return
	}
	respondMatches(w, req.Owner, matches)
}

func (h *SearchHandler) searchByImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxQueryImageBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var threshold float64
	if v := r.FormValue("threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
		threshold = parsed
	}
	var limit int
	if v := r.FormValue("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	owner := r.FormValue("owner")
	opt, ok := h.validate(w, owner, r.FormValue("tier"), threshold, limit)
	if !ok {
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "reading image failed")
		return
	}

	matches, err := h.engine.SearchByImage(r.Context(), owner, data, opt)
	if err != nil {
		respondSearchError(w, err)
		return
	}
	respondMatches(w, owner, matches)
}

// validate checks the shared search inputs and builds the engine options.
// Tier and threshold problems are client errors and reported as such here,
// before the engine runs.
func (h *SearchHandler) validate(w http.ResponseWriter, owner, tier string, threshold float64, limit int) (search.Options, bool) {
	if owner == "" {
		respondError(w, http.StatusBadRequest, "owner is required")
		return search.Options{}, false
	}
	if threshold < 0 || threshold > 1 {
		respondError(w, http.StatusBadRequest, "threshold must be between 0 and 1")
		return search.Options{}, false
	}
	if threshold == 0 {
		if _, err := search.Threshold(tier); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return search.Options{}, false
		}
	}
	return search.Options{Tier: tier, RawThreshold: threshold, Limit: limit}, true
}

func respondSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrNoQueryFaces):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case fingerprint.IsCircuitOpen(err):
		respondError(w, http.StatusServiceUnavailable, "face engine is unavailable, try again later")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondMatches(w http.ResponseWriter, owner string, matches []search.Match) {
	respondJSON(w, http.StatusOK, map[string]any{
		"owner":   owner,
		"count":   len(matches),
		"matches": matches,
	})
}
