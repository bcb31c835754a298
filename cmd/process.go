package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/contentcache"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/database/local"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/database/postgres"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/drive"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/fingerprint"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/processor"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
)

var processCmd = &cobra.Command{
	Use:   "process [folder-url]",
	Short: "Process a Google Drive folder into face embeddings",
	Long: `Process downloads every photo in a Google Drive folder, detects the faces
and stores one embedding per face. Runs are incremental: photos that were
already embedded are skipped, so rerunning after new uploads only pays for
the new photos.

Examples:
  # Process a shared folder
  cloudface process https://drive.google.com/drive/folders/abc123 --owner alice

  # Re-embed everything, ignoring previous runs
  cloudface process https://drive.google.com/drive/folders/abc123 --owner alice --force

  # JSON output for scripting
  cloudface process https://drive.google.com/drive/folders/abc123 --owner alice --json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("owner", "", "Owner the embeddings are stored under (required)")
	processCmd.Flags().Bool("force", false, "Re-embed photos that were already processed")
	processCmd.Flags().Bool("force-refetch", false, "Re-download photos even when cached")
	processCmd.Flags().Int("concurrency", 0, "Number of parallel file pipelines (0 = config default)")
	processCmd.Flags().Bool("json", false, "Output the final job state as JSON instead of a progress bar")
}

func runProcess(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	force := mustGetBool(cmd, "force")
	forceRefetch := mustGetBool(cmd, "force-refetch")
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")

	if owner == "" {
		return errors.New("--owner is required")
	}
	folderID, err := drive.ExtractID(args[0])
	if err != nil {
		return err
	}

	cfg := config.Load()

	store, err := initStores(cfg, jsonOutput)
	if err != nil {
		return err
	}
	cache, err := contentcache.New(cfg.Cache.Root)
	if err != nil {
		return fmt.Errorf("failed to open content cache: %w", err)
	}
	folders, err := processor.NewFolderState(cfg.Processor.FolderStateDir, folderStateMaxAge(cfg))
	if err != nil {
		return fmt.Errorf("failed to open folder state: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := newDriveClient(ctx, &cfg.Drive)
	if err != nil {
		return err
	}
	producer := fingerprint.NewClient(cfg.Embedding.URL, cfg.Embedding.Model, embeddingTimeout(cfg))

	pcfg := processorConfig(cfg)
	pcfg.ForceReprocess = force
	pcfg.ForceRefetch = forceRefetch
	if concurrency > 0 {
		pcfg.Concurrency = concurrency
	}

	job := progress.NewJob(uuid.New().String(), owner, folderID)
	store.SetRemoteErrorHook(func(op, _, photoRef string, err error) {
		job.AddWarning("remote store %s %s: %v", op, photoRef, err)
	})

	// Ctrl+C cancels the job: in-flight photos finish, no new ones start.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nCancelling...")
		job.Cancel()
	}()

	if !jsonOutput {
		fmt.Printf("Processing folder %s for owner %s\n", folderID, owner)
	}

	var barDone chan struct{}
	if !jsonOutput {
		barDone = make(chan struct{})
		go followJob(job, barDone)
	}

	proc := processor.New(source, cache, store, producer, folders, pcfg)
	runErr := proc.Run(ctx, job)

	if barDone != nil {
		<-barDone
		fmt.Println()
	}

	if err := local.GetGlobalStore().SaveIndex(); err != nil && !jsonOutput {
		fmt.Printf("Warning: failed to save HNSW index: %v\n", err)
	}

	if runErr != nil {
		return runErr
	}

	final := job.Snapshot()
	if jsonOutput {
		return outputJSON(final)
	}
	printRunSummary(final)
	return nil
}

// followJob renders a progress bar from job snapshots until the job reaches
// a terminal state. The bar appears once the folder listing has produced a
// total.
func followJob(job *progress.Job, done chan<- struct{}) {
	defer close(done)

	var bar *progressbar.ProgressBar
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		snap := job.Snapshot()
		if bar == nil && snap.TotalItems > 0 {
			bar = progressbar.NewOptions(snap.TotalItems,
				progressbar.OptionSetDescription("Processing photos"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("photos"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		if bar != nil {
			_ = bar.Set(snap.DoneItems)
		}
		if snap.Status.Terminal() {
			return
		}
	}
}

// printRunSummary prints the human-readable end-of-run report.
func printRunSummary(snap progress.Snapshot) {
	if snap.Status == progress.StatusCancelled {
		fmt.Printf("\nProcessing cancelled after %d/%d photos.\n", snap.DoneItems, snap.TotalItems)
	} else {
		fmt.Println("\nProcessing complete!")
	}

	if res := snap.Result; res != nil {
		fmt.Printf("  Photos found: %d\n", res.TotalCount)
		fmt.Printf("  Embedded:     %d\n", res.EmbeddedCount)
		fmt.Printf("  Skipped:      %d\n", res.SkippedCount)
		if res.FailedCount > 0 {
			fmt.Printf("  Failed:       %d\n", res.FailedCount)
		}
		fmt.Printf("  Faces found:  %d\n", res.FacesFound)
	}
	duration := time.Since(snap.StartedAt)
	if snap.FinishedAt != nil {
		duration = snap.FinishedAt.Sub(snap.StartedAt)
	}
	fmt.Printf("  Duration:     %s\n", formatDuration(duration))

	for _, w := range snap.Warnings {
		fmt.Printf("  WARNING: %s\n", w)
	}
	for _, e := range snap.Errors {
		fmt.Printf("  ERROR: %s\n", e)
	}
}

// newDriveClient builds the Drive source from configuration.
func newDriveClient(ctx context.Context, cfg *config.DriveConfig) (*drive.Client, error) {
	var extra []option.ClientOption
	if cfg.BaseURL != "" {
		extra = append(extra, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := drive.NewClient(ctx, cfg.AccessToken, cfg.APIKey, extra...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}
	return client, nil
}

// initStores sets up the local embedding tier and, when DATABASE_URL is
// configured, the PostgreSQL remote tier, then builds the dual-tier store.
func initStores(cfg *config.Config, quiet bool) (*database.Tiered, error) {
	if err := local.Initialize(&cfg.Database); err != nil {
		return nil, err
	}
	if cfg.Database.URL != "" {
		if !quiet {
			fmt.Println("Connecting to PostgreSQL...")
		}
		if err := postgres.Initialize(&cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		if !quiet {
			fmt.Println("Remote embedding tier enabled (PostgreSQL)")
		}
	}
	return database.GetTieredStore()
}

// processorConfig maps configuration onto a run config. Flags layer their
// overrides on top.
func processorConfig(cfg *config.Config) processor.Config {
	return processor.Config{
		Concurrency: cfg.Processor.Concurrency,
		ItemTimeout: time.Duration(cfg.Processor.ItemTimeoutSeconds) * time.Second,
		MaxDepth:    cfg.Drive.MaxDepth,
	}
}

func folderStateMaxAge(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Processor.FolderStateMaxDays) * 24 * time.Hour
}

func embeddingTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// formatDuration formats a duration as a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatBytes formats a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
