package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/matsen/muse/internal/index"
	"github.com/matsen/muse/internal/recommend"
)

var (
	similarIndex      string
	similarTopK       int
	similarWithScores bool
)

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().StringVar(&similarIndex, "index", "", "Index artifact (default: config index)")
	similarCmd.Flags().IntVar(&similarTopK, "topk", 0, "Number of results (default: config top_k)")
	similarCmd.Flags().BoolVar(&similarWithScores, "with-scores", false, "Include similarity scores")
}

var similarCmd = &cobra.Command{
	Use:   "similar <song-id>",
	Short: "Find indexed songs similar to an indexed song",
	Long: `Find songs similar to one already in the index, using its stored
embedding. No model or audio file is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

// SimilarResult is the response for similar command.
type SimilarResult struct {
	SongID          string           `json:"song_id"`
	Recommendations []recommend.Item `json:"recommendations"`
}

func runSimilar(cmd *cobra.Command, args []string) error {
	idx := mustLoadIndex(firstNonEmpty(similarIndex, cfg.Index, index.DefaultFileName))

	opts := index.DefaultQueryOptions()
	opts.TopK = cfg.TopK
	opts.SelfThreshold = float32(cfg.Threshold())
	if cmd.Flags().Changed("topk") {
		opts.TopK = similarTopK
	}

	recs, err := idx.FindSimilar(args[0], opts)
	if err != nil {
		if errors.Is(err, index.ErrSongNotFound) {
			exitWithError(ExitInputError, "song %q is not in the index", args[0])
		}
		exitWithError(ExitError, "finding similar songs: %v", err)
	}

	items := recommend.Items(recs, similarWithScores)
	if humanOutput {
		printItemsHuman(items)
	} else {
		outputJSON(SimilarResult{SongID: args[0], Recommendations: items})
	}
	return nil
}
