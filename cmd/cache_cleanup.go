package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/contentcache"
)

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cached downloads past their age limit",
	Long: `Cleanup removes an owner's cached downloads that are older than the age
limit. Embeddings and folder state are untouched.`,
	RunE: runCacheCleanup,
}

func init() {
	cacheCmd.AddCommand(cacheCleanupCmd)

	cacheCleanupCmd.Flags().String("owner", "", "Owner whose cache to clean up (required)")
	cacheCleanupCmd.Flags().Int("max-age-days", 0, "Age limit in days (0 = config default)")
}

func runCacheCleanup(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	maxAgeDays := mustGetInt(cmd, "max-age-days")

	if owner == "" {
		return errors.New("--owner is required")
	}

	cfg := config.Load()
	if maxAgeDays <= 0 {
		maxAgeDays = cfg.Cache.MaxAgeDays
	}

	cache, err := contentcache.New(cfg.Cache.Root)
	if err != nil {
		return fmt.Errorf("failed to open content cache: %w", err)
	}

	removed, reclaimed, err := cache.Cleanup(owner, time.Duration(maxAgeDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("cache cleanup: %w", err)
	}

	fmt.Printf("Removed %d cached files older than %d days, reclaimed %s\n",
		removed, maxAgeDays, formatBytes(reclaimed))
	return nil
}
