// Package contentcache stores downloaded photo bytes on disk so repeated
// processing runs never re-download unchanged files. Entries are keyed by
// source file identity; a published entry always points at a byte-complete
// file.
package contentcache

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SourceFile describes a photo as observed in the source listing. The
// identity hash covers every field, so any upstream change reads as a new
// file.
type SourceFile struct {
	ID           string
	Name         string
	Size         int64
	ModifiedTime string
}

// IdentityHash returns the cache identity for a source file.
func IdentityHash(f SourceFile) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%d_%s", f.ID, f.Name, f.Size, f.ModifiedTime))) //nolint:gosec // identity key, not a security boundary
	return hex.EncodeToString(sum[:])
}

// Source streams file content by ID.
type Source interface {
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// CacheEntry records one cached file in the scope manifest.
type CacheEntry struct {
	FileID       string    `json:"file_id"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	IdentityHash string    `json:"identity_hash"`
	LocalPath    string    `json:"local_path"`
	CachedAt     time.Time `json:"cached_at"`
}

// Stats summarizes an owner's cache usage.
type Stats struct {
	Files      int            `json:"files"`
	TotalBytes int64          `json:"total_bytes"`
	Scopes     map[string]int `json:"scopes"`
}

const (
	defaultMaxRetries   = 2
	defaultRetryBackoff = 500 * time.Millisecond
)

// Cache is a disk-backed content store rooted at a directory. Layout is
// <root>/<owner>/<scope>/<file_id><ext> with a manifest.json per scope.
// Manifest mutation is serialized by the cache mutex; file bodies are
// written to per-file temp paths and published by rename.
type Cache struct {
	root       string
	maxRetries int
	backoff    time.Duration

	mu        sync.Mutex
	manifests map[string]map[string]CacheEntry // owner/scope → fileID → entry
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{
		root:       dir,
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
		manifests:  make(map[string]map[string]CacheEntry),
	}, nil
}

func sanitizePathPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
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

func (c *Cache) scopeDir(owner, scope string) string {
	return filepath.Join(c.root, sanitizePathPart(owner), sanitizePathPart(scope))
}

func (c *Cache) filePath(owner, scope string, f SourceFile) string {
	ext := strings.ToLower(filepath.Ext(f.Name))
	return filepath.Join(c.scopeDir(owner, scope), sanitizePathPart(f.ID)+ext)
}

func manifestKey(owner, scope string) string {
	return owner + "/" + scope
}

// loadManifestLocked returns the scope's manifest, reading it from disk on
// first access. A missing or unreadable manifest is an empty one.
func (c *Cache) loadManifestLocked(owner, scope string) map[string]CacheEntry {
	key := manifestKey(owner, scope)
	if m, ok := c.manifests[key]; ok {
		return m
	}

	m := make(map[string]CacheEntry)
	data, err := os.ReadFile(filepath.Join(c.scopeDir(owner, scope), "manifest.json")) //nolint:gosec // path built from sanitized parts
	if err == nil {
		// Decode errors leave the manifest empty; files get re-registered
		// as they are fetched again.
		_ = json.Unmarshal(data, &m)
	}
	c.manifests[key] = m
	return m
}

func (c *Cache) saveManifestLocked(owner, scope string, m map[string]CacheEntry) error {
	dir := c.scopeDir(owner, scope)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create scope directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	path := filepath.Join(dir, "manifest.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}

// Exists reports whether the file is cached and current. It never touches
// the network. A manifest entry pointing at a missing file is corruption:
// the entry is dropped and false is returned.
func (c *Cache) Exists(owner, scope string, f SourceFile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existsLocked(owner, scope, f)
}

func (c *Cache) existsLocked(owner, scope string, f SourceFile) bool {
	m := c.loadManifestLocked(owner, scope)
	entry, ok := m[f.ID]
	if !ok {
		return false
	}
	if entry.IdentityHash != IdentityHash(f) {
		// File changed upstream; the stale bytes are replaced on fetch.
		return false
	}

	info, err := os.Stat(entry.LocalPath)
	if err != nil || info.Size() != entry.Size {
		delete(m, f.ID)
		_ = c.saveManifestLocked(owner, scope, m)
		return false
	}
	return true
}

// Fetch returns the local path for a file, downloading it on a miss. The
// body is streamed to a temp file and renamed into place before the entry
// is registered, so an interrupted download leaves no entry behind.
func (c *Cache) Fetch(ctx context.Context, owner, scope string, f SourceFile, src Source) (string, error) {
	c.mu.Lock()
	if c.existsLocked(owner, scope, f) {
		path := c.manifests[manifestKey(owner, scope)][f.ID].LocalPath
		c.mu.Unlock()
		return path, nil
	}
	c.mu.Unlock()

	return c.download(ctx, owner, scope, f, src)
}

// ForceRefetch re-downloads the file even when a current entry exists.
func (c *Cache) ForceRefetch(ctx context.Context, owner, scope string, f SourceFile, src Source) (string, error) {
	return c.download(ctx, owner, scope, f, src)
}

func (c *Cache) download(ctx context.Context, owner, scope string, f SourceFile, src Source) (string, error) {
	path := c.filePath(owner, scope, f)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create scope directory: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.downloadOnce(ctx, path, f, src); err != nil {
			lastErr = err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			continue
		}

		c.mu.Lock()
		m := c.loadManifestLocked(owner, scope)
		m[f.ID] = CacheEntry{
			FileID:       f.ID,
			Name:         f.Name,
			Size:         f.Size,
			IdentityHash: IdentityHash(f),
			LocalPath:    path,
			CachedAt:     time.Now().UTC(),
		}
		err := c.saveManifestLocked(owner, scope, m)
		c.mu.Unlock()
		if err != nil {
			return "", err
		}
		return path, nil
	}

	return "", fmt.Errorf("download %s after %d attempts: %w", f.ID, c.maxRetries+1, lastErr)
}

func (c *Cache) downloadOnce(ctx context.Context, path string, f SourceFile, src Source) error {
	body, err := src.Download(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("open download: %w", err)
	}
	defer body.Close()

	tmp := path + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // path built from sanitized parts
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("stream download: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish file: %w", err)
	}
	return nil
}

// ownerScopes lists the scope directories present on disk for an owner.
func (c *Cache) ownerScopes(owner string) ([]string, error) {
	ownerDir := filepath.Join(c.root, sanitizePathPart(owner))
	entries, err := os.ReadDir(ownerDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read owner directory: %w", err)
	}

	var scopes []string
	for _, e := range entries {
		if e.IsDir() {
			scopes = append(scopes, e.Name())
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Stats reports cached file counts and bytes for an owner across scopes.
func (c *Cache) Stats(owner string) (Stats, error) {
	stats := Stats{Scopes: make(map[string]int)}

	scopes, err := c.ownerScopes(owner)
	if err != nil {
		return stats, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, scope := range scopes {
		m := c.loadManifestLocked(owner, scope)
		for _, entry := range m {
			stats.Files++
			stats.TotalBytes += entry.Size
			stats.Scopes[scope]++
		}
	}
	return stats, nil
}

// Cleanup removes entries cached before the age cutoff. Returns the number
// of files removed and the bytes reclaimed.
func (c *Cache) Cleanup(owner string, maxAge time.Duration) (int, int64, error) {
	cutoff := time.Now().Add(-maxAge)

	scopes, err := c.ownerScopes(owner)
	if err != nil {
		return 0, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var reclaimed int64
	for _, scope := range scopes {
		m := c.loadManifestLocked(owner, scope)
		changed := false
		for id, entry := range m {
			if entry.CachedAt.After(cutoff) {
				continue
			}
			if err := os.Remove(entry.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, reclaimed, fmt.Errorf("remove %s: %w", entry.LocalPath, err)
			}
			delete(m, id)
			removed++
			reclaimed += entry.Size
			changed = true
		}
		if changed {
			if err := c.saveManifestLocked(owner, scope, m); err != nil {
				return removed, reclaimed, err
			}
		}
	}
	return removed, reclaimed, nil
}

// Clear removes an owner's cached content. With a scope it clears that
// scope only; with an empty scope it clears everything for the owner.
func (c *Cache) Clear(owner, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if scope != "" {
		delete(c.manifests, manifestKey(owner, scope))
		if err := os.RemoveAll(c.scopeDir(owner, scope)); err != nil {
			return fmt.Errorf("clear scope: %w", err)
		}
		return nil
	}

	prefix := owner + "/"
	for key := range c.manifests {
		if strings.HasPrefix(key, prefix) {
			delete(c.manifests, key)
		}
	}
	if err := os.RemoveAll(filepath.Join(c.root, sanitizePathPart(owner))); err != nil {
		return fmt.Errorf("clear owner cache: %w", err)
	}
	return nil
}
