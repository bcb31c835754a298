package local

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
)

// Store is the file-backed local embedding store. Each owner's corpus lives
// in a single gob file under the root directory, loaded lazily on first
// access and rewritten atomically on every change. An optional HNSW index
// accelerates similarity search across all owners.
type Store struct {
	dir       string
	mu        sync.Mutex
	owners    map[string]*ownerState
	index     *database.HNSWIndex
	indexPath string
}

type ownerState struct {
	faces     map[string][]database.StoredFace
	processed map[string]database.ProcessedRecord
	maxID     int64
}

var (
	globalStore *Store
	storeMu     sync.RWMutex
)

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("local store directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create local store directory: %w", err)
	}
	return &Store{
		dir:    dir,
		owners: make(map[string]*ownerState),
	}, nil
}

// SetGlobalStore sets the global store instance.
func SetGlobalStore(s *Store) {
	storeMu.Lock()
	defer storeMu.Unlock()
	globalStore = s
}

// GetGlobalStore returns the global store instance.
func GetGlobalStore() *Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return globalStore
}

// IsAvailable returns true if a global store is configured.
func IsAvailable() bool {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return globalStore != nil
}

// Initialize sets up the local store from config and registers it as the
// local tier. The HNSW index only accelerates search; when it cannot be
// loaded or built the store falls back to exact scans.
func Initialize(cfg *config.DatabaseConfig) error {
	store, err := NewStore(cfg.LocalDir)
	if err != nil {
		return fmt.Errorf("failed to create local store: %w", err)
	}

	if cfg.HNSWIndexPath != "" {
		if err := store.EnableHNSW(cfg.HNSWIndexPath); err != nil {
			log.Printf("warning: HNSW index unavailable, using exact search: %v", err)
		}
	}

	SetGlobalStore(store)
	database.RegisterLocalBackend(func() database.FaceWriter {
		return NewFaceRepository(store)
	})
	return nil
}

// newOwnerState returns an empty in-memory corpus.
func newOwnerState() *ownerState {
	return &ownerState{
		faces:     make(map[string][]database.StoredFace),
		processed: make(map[string]database.ProcessedRecord),
	}
}

// ownerPath maps an owner to its gob file. Characters that are unsafe in
// filenames are replaced, so distinct owners can in principle collide; the
// stored Owner field stays authoritative.
func (s *Store) ownerPath(owner string) string {
	return filepath.Join(s.dir, sanitizeOwner(owner)+".gob")
}

func sanitizeOwner(owner string) string {
	var b strings.Builder
	b.Grow(len(owner))
	for _, r := range owner {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// loadOwnerLocked returns the owner's corpus, reading it from disk on first
// access. A missing file is an empty corpus. An unreadable file is logged
// and treated as empty; the next save overwrites it.
func (s *Store) loadOwnerLocked(owner string) (*ownerState, error) {
	if st, ok := s.owners[owner]; ok {
		return st, nil
	}

	st := newOwnerState()
	path := s.ownerPath(owner)

	data, err := os.ReadFile(path) //nolint:gosec // path is derived from sanitized owner
	if errors.Is(err, os.ErrNotExist) {
		s.owners[owner] = st
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read owner file: %w", err)
	}

	var export database.OwnerExport
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&export); err != nil {
		log.Printf("warning: discarding unreadable owner file %s: %v", path, err)
		s.owners[owner] = st
		return st, nil
	}

	s.importLocked(st, export)
	s.owners[owner] = st
	return st, nil
}

func (s *Store) importLocked(st *ownerState, export database.OwnerExport) {
	for _, rec := range export.Processed {
		st.processed[rec.PhotoRef] = rec
	}
	for _, f := range export.Faces {
		st.faces[f.PhotoRef] = append(st.faces[f.PhotoRef], f)
		if f.ID > st.maxID {
			st.maxID = f.ID
		}
	}
}

// persistOwnerLocked writes the owner's corpus to disk. The file is written
// to a temp path and renamed so readers never see a partial file. An empty
// corpus removes the file instead.
func (s *Store) persistOwnerLocked(owner string, st *ownerState) error {
	path := s.ownerPath(owner)

	if len(st.processed) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove owner file: %w", err)
		}
		return nil
	}

	refs := make([]string, 0, len(st.processed))
	for ref := range st.processed {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	export := database.OwnerExport{
		Version:   database.OwnerExportVersion,
		SavedAt:   time.Now().UTC(),
		Processed: make([]database.ProcessedRecord, 0, len(refs)),
	}
	for _, ref := range refs {
		export.Processed = append(export.Processed, st.processed[ref])
		export.Faces = append(export.Faces, st.faces[ref]...)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(export); err != nil {
		return fmt.Errorf("encode owner export: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write owner file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish owner file: %w", err)
	}
	return nil
}

// loadAllLocked reads every owner file under the root directory into memory.
// Owners already in memory are kept as-is.
func (s *Store) loadAllLocked() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read local store directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".gob") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		data, err := os.ReadFile(path) //nolint:gosec // entries come from our own directory
		if err != nil {
			return fmt.Errorf("read owner file %s: %w", entry.Name(), err)
		}
		var export database.OwnerExport
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&export); err != nil {
			log.Printf("warning: skipping unreadable owner file %s: %v", path, err)
			continue
		}
		if len(export.Processed) == 0 {
			continue
		}

		owner := export.Processed[0].Owner
		if _, ok := s.owners[owner]; ok {
			continue
		}
		st := newOwnerState()
		s.importLocked(st, export)
		s.owners[owner] = st
	}
	return nil
}

// allFacesLocked collects every face across loaded owners along with the
// highest assigned face ID.
func (s *Store) allFacesLocked() ([]database.StoredFace, int64) {
	var faces []database.StoredFace
	var maxID int64
	for _, st := range s.owners {
		for _, refFaces := range st.faces {
			faces = append(faces, refFaces...)
		}
		if st.maxID > maxID {
			maxID = st.maxID
		}
	}
	return faces, maxID
}

// EnableHNSW loads the index from path, validating it against the current
// corpus through the metadata sidecar, and rebuilds it when missing or
// stale.
func (s *Store) EnableHNSW(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadAllLocked(); err != nil {
		return err
	}
	faces, maxID := s.allFacesLocked()

	idx := database.NewHNSWIndex()
	if err := idx.Load(path); err != nil {
		log.Printf("warning: HNSW index unreadable, rebuilding: %v", err)
		idx = database.NewHNSWIndex()
	}

	if !idx.IsEmpty() {
		meta, err := database.LoadHNSWMetadata(path)
		if err == nil && meta.FaceCount == int64(len(faces)) && meta.MaxFaceID == maxID {
			idx.RebuildFaceLookup(faces)
			s.index = idx
			s.indexPath = path
			return nil
		}
		log.Printf("HNSW index stale (indexed %d faces, store has %d), rebuilding", meta.FaceCount, len(faces))
		idx = database.NewHNSWIndex()
	}

	if err := idx.BuildFromFaces(faces); err != nil {
		return fmt.Errorf("build HNSW index: %w", err)
	}
	if err := idx.Save(path, database.HNSWIndexMetadata{
		FaceCount: int64(len(faces)),
		MaxFaceID: maxID,
		BuildTime: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save HNSW index: %w", err)
	}

	s.index = idx
	s.indexPath = path
	return nil
}

// SaveIndex persists the in-memory HNSW index and its metadata. A no-op
// when the index is disabled.
func (s *Store) SaveIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil || s.indexPath == "" {
		return nil
	}
	faces, maxID := s.allFacesLocked()
	return s.index.Save(s.indexPath, database.HNSWIndexMetadata{
		FaceCount: int64(len(faces)),
		MaxFaceID: maxID,
		BuildTime: time.Now().UTC(),
	})
}
