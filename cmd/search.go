package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/config"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/fingerprint"
	"github.com/cloudface-ai/cloudface-ai.pro/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [selfie.jpg...]",
	Short: "Search processed photos with a selfie",
	Long: `Search embeds the faces in one or more query images and ranks the owner's
processed photos by face similarity. A photo matches when any of its faces
reaches the similarity threshold against any query face; each photo appears
once with its best score.

Thresholds come as named tiers: strict (0.75), standard (0.65, the
default) and loose (0.50). A raw --threshold overrides the tier.

Examples:
  # Search with the default tier
  cloudface search selfie.jpg --owner alice

  # Looser matching, top 20 results
  cloudface search selfie.jpg --owner alice --tier loose --limit 20

  # Raw threshold, JSON output
  cloudface search selfie.jpg --owner alice --threshold 0.7 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().String("owner", "", "Owner whose photos to search (required)")
	searchCmd.Flags().String("tier", "", "Similarity tier: strict, standard or loose")
	searchCmd.Flags().Float64("threshold", 0, "Raw similarity threshold in (0, 1], overrides --tier")
	searchCmd.Flags().Int("limit", 0, "Maximum number of results (0 = unlimited)")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

// SearchResult is the JSON shape of a search, matching the web API response.
type SearchResult struct {
	Owner   string         `json:"owner"`
	Count   int            `json:"count"`
	Matches []search.Match `json:"matches"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	tier := mustGetString(cmd, "tier")
	threshold := mustGetFloat64(cmd, "threshold")
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")

	if owner == "" {
		return errors.New("--owner is required")
	}

	cfg := config.Load()
	ctx := context.Background()

	store, err := initStores(cfg, jsonOutput)
	if err != nil {
		return err
	}
	producer := fingerprint.NewClient(cfg.Embedding.URL, cfg.Embedding.Model, embeddingTimeout(cfg))
	engine := search.NewEngine(store, producer)

	var queries [][]float32
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		faces, err := producer.DetectAndEmbed(ctx, data)
		if err != nil {
			return fmt.Errorf("embedding %s: %w", path, err)
		}
		if len(faces) == 0 {
			if !jsonOutput {
				fmt.Printf("Warning: no face found in %s\n", path)
			}
			continue
		}
		for _, face := range faces {
			queries = append(queries, face.Embedding)
		}
	}
	if len(queries) == 0 {
		return search.ErrNoQueryFaces
	}

	matches, err := engine.Search(ctx, owner, queries, search.Options{
		Tier:         tier,
		RawThreshold: threshold,
		Limit:        limit,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(SearchResult{Owner: owner, Count: len(matches), Matches: matches})
	}

	if len(matches) == 0 {
		fmt.Println("No matching photos found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHOTO\tSIMILARITY")
	fmt.Fprintln(w, "-----\t----------")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%.3f\n", m.PhotoRef, m.Similarity)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	fmt.Printf("\n%d matching photos\n", len(matches))
	return nil
}
