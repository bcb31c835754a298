package processor

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/drive"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

// DefaultFolderStateMaxAge is how long a folder fingerprint stays valid.
// Folders do change without their listing showing it (permissions, file
// content edits that keep the modified time), so a fingerprint is never
// trusted forever.
const DefaultFolderStateMaxAge = 7 * 24 * time.Hour

// FolderState remembers one fingerprint per (owner, folder) from the last
// clean processing run. An unchanged fingerprint lets the next run skip all
// per-file checks wholesale.
type FolderState struct {
	dir    string
	maxAge time.Duration
	mu     sync.Mutex
}

// folderRecord is the on-disk form of one remembered folder.
type folderRecord struct {
	Owner       string           `json:"owner"`
	FolderID    string           `json:"folder_id"`
	Fingerprint string           `json:"fingerprint"`
	FileCount   int              `json:"file_count"`
	SavedAt     time.Time        `json:"saved_at"`
	Stats       *progress.Result `json:"stats,omitempty"`
}

// NewFolderState opens a folder-state store rooted at dir. maxAge bounds how
// old a fingerprint may be and still short-circuit a run; non-positive
// values fall back to the default week.
func NewFolderState(dir string, maxAge time.Duration) (*FolderState, error) {
	if dir == "" {
		return nil, errors.New("folder state directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create folder state directory: %w", err)
	}
	if maxAge <= 0 {
		maxAge = DefaultFolderStateMaxAge
	}
	return &FolderState{dir: dir, maxAge: maxAge}, nil
}

// fileIdentity is the part of a listing entry that participates in the
// folder fingerprint.
type fileIdentity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

// Fingerprint hashes a folder listing into a stable identity. The listing
// is sorted by file ID first, so the fingerprint is order-independent.
func Fingerprint(files []drive.File) string {
	ids := make([]fileIdentity, 0, len(files))
	for _, f := range files {
		ids = append(ids, fileIdentity{ID: f.ID, Name: f.Name, Size: f.Size, Modified: f.ModifiedTime})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID < ids[j].ID })

	payload, err := json.Marshal(ids)
	if err != nil {
		return ""
	}
	sum := md5.Sum(payload) //nolint:gosec // change detection, not a security boundary
	return hex.EncodeToString(sum[:])
}

func (s *FolderState) recordPath(owner, folderID string) string {
	return filepath.Join(s.dir, sanitizePart(owner), sanitizePart(folderID)+".json")
}

func sanitizePart(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
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

// Unchanged reports whether the folder's current listing matches the stored
// fingerprint from the last clean run and that fingerprint is still fresh.
func (s *FolderState) Unchanged(owner, folderID string, files []drive.File) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.recordPath(owner, folderID)) //nolint:gosec // path built from sanitized parts
	if err != nil {
		return false
	}
	var rec folderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return false
	}
	if time.Since(rec.SavedAt) > s.maxAge {
		return false
	}
	return rec.Fingerprint != "" && rec.Fingerprint == Fingerprint(files)
}

// Save records the folder's fingerprint together with the run's stats.
// Called only after clean runs; a run with failures calls Forget instead.
func (s *FolderState) Save(owner, folderID string, files []drive.File, stats *progress.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := folderRecord{
		Owner:       owner,
		FolderID:    folderID,
		Fingerprint: Fingerprint(files),
		FileCount:   len(files),
		SavedAt:     time.Now(),
		Stats:       stats,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode folder state: %w", err)
	}

	path := s.recordPath(owner, folderID)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create owner directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write folder state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish folder state: %w", err)
	}
	return nil
}

// Forget drops the stored fingerprint for a folder.
func (s *FolderState) Forget(owner, folderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = os.Remove(s.recordPath(owner, folderID))
}

// Clear drops every stored fingerprint for an owner. Returns the number of
// records removed.
func (s *FolderState) Clear(owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ownerDir := filepath.Join(s.dir, sanitizePart(owner))
	entries, err := os.ReadDir(ownerDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read folder state directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(ownerDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
