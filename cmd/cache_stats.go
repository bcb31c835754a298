package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/contentcache"
)

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show content cache and embedding store statistics",
	RunE:  runCacheStats,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)

	cacheStatsCmd.Flags().String("owner", "", "Owner to report on (required)")
	cacheStatsCmd.Flags().Bool("json", false, "Output as JSON")
}

// CacheStatsResult represents the combined cache and store statistics for an owner
type CacheStatsResult struct {
	Owner      string         `json:"owner"`
	Files      int            `json:"files"`
	TotalBytes int64          `json:"total_bytes"`
	Scopes     map[string]int `json:"scopes,omitempty"`
	Photos     int            `json:"photos"`
	Faces      int            `json:"faces"`
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	jsonOutput := mustGetBool(cmd, "json")

	if owner == "" {
		return errors.New("--owner is required")
	}

	cfg := config.Load()

	cache, err := contentcache.New(cfg.Cache.Root)
	if err != nil {
		return fmt.Errorf("failed to open content cache: %w", err)
	}
	store, err := initStores(cfg, jsonOutput)
	if err != nil {
		return err
	}

	stats, err := cache.Stats(owner)
	if err != nil {
		return fmt.Errorf("reading cache stats: %w", err)
	}

	ctx := context.Background()
	photos, err := store.CountPhotos(ctx, owner)
	if err != nil {
		return fmt.Errorf("counting photos: %w", err)
	}
	faces, err := store.CountFaces(ctx, owner)
	if err != nil {
		return fmt.Errorf("counting faces: %w", err)
	}

	result := CacheStatsResult{
		Owner:      owner,
		Files:      stats.Files,
		TotalBytes: stats.TotalBytes,
		Scopes:     stats.Scopes,
		Photos:     photos,
		Faces:      faces,
	}
	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Cache statistics for %s\n", owner)
	fmt.Printf("  Cached files:     %d\n", result.Files)
	fmt.Printf("  Cache size:       %s\n", formatBytes(result.TotalBytes))
	fmt.Printf("  Processed photos: %d\n", result.Photos)
	fmt.Printf("  Stored faces:     %d\n", result.Faces)
	return nil
}
