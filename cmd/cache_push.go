package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
)

var cachePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local-only embeddings to the remote tier",
	Long: `Push writes photos that exist only in the local embedding tier to the
remote PostgreSQL tier. Remote writes that fail during processing leave the
tiers diverged; push is the reconciliation pass.

Requires DATABASE_URL to be set.

Examples:
  # Reconcile alice's embeddings
  cloudface cache push --owner alice

  # JSON output
  cloudface cache push --owner alice --json`,
	RunE: runCachePush,
}

func init() {
	cacheCmd.AddCommand(cachePushCmd)

	cachePushCmd.Flags().String("owner", "", "Owner whose embeddings to push (required)")
	cachePushCmd.Flags().Bool("json", false, "Output as JSON")
}

// PushResult represents the result of a push operation
type PushResult struct {
	Success       bool   `json:"success"`
	PhotosPushed  int    `json:"photos_pushed"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

func runCachePush(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	jsonOutput := mustGetBool(cmd, "json")

	if owner == "" {
		return errors.New("--owner is required")
	}

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	startTime := time.Now()

	store, err := initStores(cfg, jsonOutput)
	if err != nil {
		return err
	}

	pushed, err := store.PushPending(context.Background(), owner)
	if err != nil {
		return fmt.Errorf("pushing embeddings: %w", err)
	}

	duration := time.Since(startTime)
	result := PushResult{
		Success:       true,
		PhotosPushed:  pushed,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}
	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("Push complete!")
	fmt.Printf("  Photos pushed: %d\n", result.PhotosPushed)
	fmt.Printf("  Duration:      %s\n", result.DurationHuman)
	return nil
}
