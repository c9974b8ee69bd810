package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/matsen/muse/internal/audio"
	"github.com/matsen/muse/internal/classify"
	"github.com/matsen/muse/internal/model"
	"github.com/matsen/muse/internal/recommend"
)

var (
	inferModel         string
	inferAudio         string
	inferLabels        string
	inferIndex         string
	inferTopK          int
	inferFilterGenre   bool
	inferSelfThreshold float32
	inferWithScores    bool
	inferNoRecord      bool
)

func init() {
	rootCmd.AddCommand(inferCmd)

	inferCmd.Flags().StringVar(&inferModel, "model", "", "Model manifest (default: config model)")
	inferCmd.Flags().StringVar(&inferAudio, "audio", "", "Audio file to classify")
	inferCmd.Flags().StringVar(&inferLabels, "labels", "", "Label file, one label per line (default: config labels)")
	inferCmd.Flags().StringVar(&inferIndex, "index", "", "Index artifact (default: config index)")
	inferCmd.Flags().IntVar(&inferTopK, "topk", 0, "Number of recommendations (default: config top_k)")
	inferCmd.Flags().BoolVar(&inferFilterGenre, "filter-genre", false, "Only recommend songs with the predicted label")
	inferCmd.Flags().Float32Var(&inferSelfThreshold, "self-threshold", 0, "Similarity at or above which a song counts as the query itself (default: config self_threshold)")
	inferCmd.Flags().BoolVar(&inferWithScores, "with-scores", false, "Include similarity scores")
	inferCmd.Flags().BoolVar(&inferNoRecord, "no-record", false, "Do not record the prediction")
	inferCmd.MarkFlagRequired("audio")
}

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Predict a label for an audio file and recommend similar songs",
	Long: `Classify one audio file and recommend similar songs from the index.

Recommendations are empty when no index is available or the model has
no embed capability. Classification failures are fatal.

Exit codes: 2 missing model or audio file.`,
	RunE: runInfer,
}

// inferExitCode maps an inference failure to its exit code.
func inferExitCode(err error) int {
	switch {
	case errors.Is(err, audio.ErrNotFound),
		errors.Is(err, model.ErrManifestNotFound),
		errors.Is(err, model.ErrInvalidManifest),
		model.IsNotFound(err):
		return ExitInputError
	default:
		return ExitError
	}
}

// inferOptions layers explicitly set flags over config values.
func inferOptions(cmd *cobra.Command) recommend.Options {
	opts := recommend.DefaultOptions()
	opts.TopK = cfg.TopK
	opts.SelfThreshold = float32(cfg.Threshold())
	opts.FilterByLabel = cfg.FilterGenre

	flags := cmd.Flags()
	if flags.Changed("topk") {
		opts.TopK = inferTopK
	}
	if flags.Changed("self-threshold") {
		opts.SelfThreshold = inferSelfThreshold
	}
	if flags.Changed("filter-genre") {
		opts.FilterByLabel = inferFilterGenre
	}
	opts.WithScores = inferWithScores
	return opts
}

func runInfer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if _, err := os.Stat(inferAudio); err != nil {
		exitWithError(ExitInputError, "audio file not found: %s", inferAudio)
	}
	m := mustOpenModel(firstNonEmpty(inferModel, cfg.Model))

	opts := inferOptions(cmd)
	if opts.TopK < 0 {
		exitWithError(ExitError, "--topk must not be negative")
	}

	labels, err := classify.LoadLabels(firstNonEmpty(inferLabels, cfg.Labels))
	if err != nil {
		exitWithError(ExitError, "loading labels: %v", err)
	}
	idx := recommend.LoadIndex(firstNonEmpty(inferIndex, cfg.Index), logger)

	engineOpts := []recommend.Option{recommend.WithLogger(logger)}
	if !inferNoRecord {
		if db := openDatabaseOptional(cfg.DBPath); db != nil {
			defer db.Close()
			engineOpts = append(engineOpts, recommend.WithRecorder(db))
		}
	}

	engine := recommend.New(m, audio.NewExtractor(audio.DefaultParams()), labels, idx, engineOpts...)
	result, err := engine.Infer(ctx, inferAudio, opts)
	if err != nil {
		exitWithError(inferExitCode(err), "%v", err)
	}

	if humanOutput {
		printInferHuman(result)
	} else {
		outputJSON(result)
	}
	return nil
}

func printInferHuman(r *recommend.Result) {
	fmt.Printf("Predicted: %s (%.1f%%)\n", r.PredictedLabel, r.Confidence*100)
	if len(r.Recommendations) == 0 {
		fmt.Println("\nNo recommendations.")
		return
	}
	fmt.Println()
	printItemsHuman(r.Recommendations)
}

// printItemsHuman prints recommended songs as a table.
func printItemsHuman(items []recommend.Item) {
	withScores := len(items) > 0 && items[0].Score != nil
	headers := []string{"#", "Song", "Artist"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft}
	if withScores {
		headers = append(headers, "Similarity")
		aligns = append(aligns, alignRight)
	}

	rows := make([][]string, 0, len(items))
	for i, it := range items {
		row := []string{fmt.Sprint(i + 1), truncateString(it.SongID, TitleMaxLen), it.Artist}
		if withScores {
			row = append(row, formatScore(*it.Score))
		}
		rows = append(rows, row)
	}
	fmt.Println(renderTable(headers, rows, aligns))
}
