package config

import (
	"os"
	"strconv"
)

type Config struct {
	Drive     DriveConfig
	Embedding EmbeddingConfig
	Cache     CacheConfig
	Database  DatabaseConfig
	Processor ProcessorConfig
	Web       WebConfig
}

type DriveConfig struct {
	BaseURL     string // optional endpoint override, empty uses the Google default
	AccessToken string // OAuth bearer token for private folders
	APIKey      string // fallback key for public folders (used on 403)
	MaxDepth    int    // subfolder recursion limit (default 10)
}

type EmbeddingConfig struct {
	URL            string // face embedding sidecar, defaults to http://localhost:8000
	Model          string // model name reported by the sidecar (default buffalo_l)
	Dim            int    // expected vector dimension (default 512)
	TimeoutSeconds int    // per-call timeout (default 60)
}

type CacheConfig struct {
	Root       string // content cache root (default storage/cache)
	MaxAgeDays int    // entries older than this are eligible for cleanup (default 30)
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL for the remote tier
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	LocalDir      string // local embedding tier directory (default storage/embeddings)
	HNSWIndexPath string // Path to persist the local HNSW index (optional, empty disables the index)
}

type ProcessorConfig struct {
	Concurrency        int    // simultaneous in-flight files (default 10)
	ItemTimeoutSeconds int    // per-file timeout covering fetch and embed (default 120)
	FolderStateDir     string // folder fingerprint cache directory (default storage/folder_state)
	FolderStateMaxDays int    // folder fingerprints older than this are ignored (default 7)
}

type WebConfig struct {
	Addr string // listen address (default :8080)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envStr reads an environment variable with a default for the unset/empty case.
func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Drive: DriveConfig{
			BaseURL:     os.Getenv("DRIVE_BASE_URL"),
			AccessToken: os.Getenv("DRIVE_ACCESS_TOKEN"),
			APIKey:      os.Getenv("DRIVE_API_KEY"),
			MaxDepth:    envInt("DRIVE_MAX_DEPTH", 10),
		},
		Embedding: EmbeddingConfig{
			URL:            envStr("EMBEDDING_URL", "http://localhost:8000"),
			Model:          envStr("EMBEDDING_MODEL", "buffalo_l"),
			Dim:            envInt("EMBEDDING_DIM", 512),
			TimeoutSeconds: envInt("EMBEDDING_TIMEOUT_SECONDS", 60),
		},
		Cache: CacheConfig{
			Root:       envStr("CACHE_ROOT", "storage/cache"),
			MaxAgeDays: envInt("CACHE_MAX_AGE_DAYS", 30),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			LocalDir:      envStr("EMBEDDING_LOCAL_DIR", "storage/embeddings"),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Processor: ProcessorConfig{
			Concurrency:        envInt("PROCESS_CONCURRENCY", 10),
			ItemTimeoutSeconds: envInt("PROCESS_ITEM_TIMEOUT_SECONDS", 120),
			FolderStateDir:     envStr("FOLDER_STATE_DIR", "storage/folder_state"),
			FolderStateMaxDays: envInt("FOLDER_STATE_MAX_DAYS", 7),
		},
		Web: WebConfig{
			Addr: envStr("WEB_ADDR", ":8080"),
		},
	}
}
