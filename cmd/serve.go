package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/contentcache"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/database/local"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/fingerprint"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/processor"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/progress"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/search"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/web"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve starts the HTTP API: processing kickoff with live progress over
server-sent events, selfie search and cache management.

Examples:
  # Start on the default address (:8080)
  cloudface serve

  # Custom listen address
  cloudface serve --addr :9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default from WEB_ADDR or :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if addr := mustGetString(cmd, "addr"); addr != "" {
		cfg.Web.Addr = addr
	}

	store, err := initStores(cfg, false)
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

	jobs := progress.NewManager()

	// Remote tier failures during a run surface as warnings on the owner's
	// active job.
	store.SetRemoteErrorHook(func(op, owner, photoRef string, err error) {
		if job, ok := jobs.Active(owner); ok {
			job.AddWarning("remote store %s %s: %v", op, photoRef, err)
			return
		}
		log.Printf("warning: remote store %s failed for %s/%s: %v", op, owner, photoRef, err)
	})

	deps := web.Deps{
		Jobs: jobs,
		NewRun: func(pcfg processor.Config) handlers.Runner {
			runCfg := processorConfig(cfg)
			if pcfg.Concurrency > 0 {
				runCfg.Concurrency = pcfg.Concurrency
			}
			runCfg.ForceReprocess = pcfg.ForceReprocess
			runCfg.ForceRefetch = pcfg.ForceRefetch
			return processor.New(source, cache, store, producer, folders, runCfg)
		},
		Engine:  search.NewEngine(store, producer),
		Cache:   cache,
		Folders: folders,
		Store:   store,
	}

	server := web.NewServer(cfg, deps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveLocalIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Cloudface API on %s\n", cfg.Web.Addr)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// saveLocalIndex persists the local HNSW index during shutdown. A no-op
// when the index is disabled.
func saveLocalIndex() {
	store := local.GetGlobalStore()
	if store == nil {
		return
	}
	if err := store.SaveIndex(); err != nil {
		fmt.Printf("Warning: failed to save HNSW index: %v\n", err)
	}
}
