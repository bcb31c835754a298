package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/contentcache"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/processor"
)

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear an owner's cached downloads and folder state",
	Long: `Clear removes an owner's cached photo downloads and forgets their folder
fingerprints. Stored embeddings are kept: the next processing run downloads
the photos again but does not re-embed them.`,
	RunE: runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)

	cacheClearCmd.Flags().String("owner", "", "Owner whose cache to clear (required)")
	cacheClearCmd.Flags().String("scope", "", "Clear a single cache scope instead of everything")
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	scope := mustGetString(cmd, "scope")

	if owner == "" {
		return errors.New("--owner is required")
	}

	cfg := config.Load()

	cache, err := contentcache.New(cfg.Cache.Root)
	if err != nil {
		return fmt.Errorf("failed to open content cache: %w", err)
	}
	if err := cache.Clear(owner, scope); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}

	cleared := 0
	if scope == "" {
		folders, err := processor.NewFolderState(cfg.Processor.FolderStateDir, folderStateMaxAge(cfg))
		if err != nil {
			return fmt.Errorf("failed to open folder state: %w", err)
		}
		cleared, err = folders.Clear(owner)
		if err != nil {
			return fmt.Errorf("clearing folder state: %w", err)
		}
	}

	if scope != "" {
		fmt.Printf("Cache cleared for %s (scope %s)\n", owner, scope)
		return nil
	}
	fmt.Printf("Cache cleared for %s\n", owner)
	if cleared > 0 {
		fmt.Printf("  Folder fingerprints forgotten: %d\n", cleared)
	}
	return nil
}
