package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/muse/internal/audio"
	"github.com/matsen/muse/internal/config"
	"github.com/matsen/muse/internal/index"
	"github.com/matsen/muse/internal/model"
	"github.com/matsen/muse/internal/storage"
)

var (
	buildModel   string
	buildAudio   string
	buildOut     string
	buildExclude []string
	noProgress   bool

	checkIndex   string
	checkAudio   string
	checkExclude []string
	infoIndex    string
)

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(buildIndexCmd)
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexCheckCmd)
	indexCmd.AddCommand(indexInfoCmd)

	for _, cmd := range []*cobra.Command{indexBuildCmd, buildIndexCmd} {
		cmd.Flags().StringVar(&buildModel, "model", "", "Model manifest (default: config model)")
		cmd.Flags().StringVar(&buildAudio, "audio-dir", "", "Directory of audio files to index")
		cmd.Flags().StringVar(&buildOut, "out", "", "Output artifact path (default: config index, else "+index.DefaultFileName+")")
		cmd.Flags().StringSliceVar(&buildExclude, "exclude", nil, "Glob patterns of files to leave out (repeatable)")
		cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Suppress the progress bar")
		cmd.MarkFlagRequired("audio-dir")
	}

	indexCheckCmd.Flags().StringVar(&checkIndex, "index", "", "Index artifact (default: config index)")
	indexCheckCmd.Flags().StringVar(&checkAudio, "audio-dir", "", "Corpus directory (default: the recorded build's, else config library_dir)")
	indexCheckCmd.Flags().StringSliceVar(&checkExclude, "exclude", nil, "Extra glob patterns of files to leave out, added to the build's (repeatable)")
	indexInfoCmd.Flags().StringVar(&infoIndex, "index", "", "Index artifact (default: config index)")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the song embedding index",
	Long:  `Commands for building, checking, and describing the song embedding index.`,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or rebuild the embedding index",
	Long: `Build the embedding index from a directory of audio files.

Every recognized audio file under --audio-dir is converted to a
spectrogram, embedded by the model, and stored L2-normalized. Files
that fail to decode or embed are logged and skipped.

Exit codes: 2 invalid audio dir or model (including a model the server
does not serve), 3 no audio files,
4 model has no embed capability, 5 no embeddings produced.`,
	RunE: runIndexBuild,
}

var buildIndexCmd = &cobra.Command{
	Use:   "build-index",
	Short: "Build the embedding index (same as 'index build')",
	Long:  indexBuildCmd.Long,
	RunE:  runIndexBuild,
}

// IndexBuildResult is the response for index build command.
type IndexBuildResult struct {
	Status          string  `json:"status"`
	Path            string  `json:"path"`
	FilesFound      int     `json:"files_found"`
	ItemsIndexed    int     `json:"items_indexed"`
	ItemsSkipped    int     `json:"items_skipped"`
	Dimensions      int     `json:"dimensions"`
	DurationSeconds float64 `json:"duration_seconds"`
	Model           string  `json:"model"`
	IndexSizeBytes  int64   `json:"index_size_bytes"`
}

// buildExitCode maps an index build failure to its exit code.
func buildExitCode(err error) int {
	switch {
	case errors.Is(err, index.ErrInvalidCorpus),
		errors.Is(err, model.ErrManifestNotFound),
		errors.Is(err, model.ErrInvalidManifest),
		model.IsNotFound(err):
		return ExitInputError
	case errors.Is(err, index.ErrNoAudio):
		return ExitNoAudio
	case model.IsCapability(err):
		return ExitCapability
	case errors.Is(err, index.ErrEmptyIndex):
		return ExitEmptyIndex
	default:
		return ExitError
	}
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	m := mustOpenModel(firstNonEmpty(buildModel, cfg.Model))
	out := firstNonEmpty(buildOut, cfg.Index, index.DefaultFileName)
	root, err := filepath.Abs(buildAudio)
	if err != nil {
		exitWithError(ExitInputError, "resolving audio dir: %v", err)
	}

	opts := []index.BuilderOption{
		index.WithLogger(logger),
		index.WithExclude(slices.Concat(cfg.Build.Exclude, buildExclude)),
	}
	if db := openDatabaseOptional(cfg.DBPath); db != nil {
		defer db.Close()
		opts = append(opts, index.WithDB(db))
	}
	if !noProgress {
		if bar := index.NewBarReporter(); bar != nil {
			opts = append(opts, index.WithProgress(bar))
		}
	}

	builder := index.NewBuilder(m, audio.NewExtractor(audio.DefaultParams()), opts...)
	idx, stats, err := builder.Build(ctx, root)
	if err != nil {
		exitWithError(buildExitCode(err), "building index: %v", err)
	}

	if err := builder.Save(idx, out); err != nil {
		exitWithError(ExitError, "saving index: %v", err)
	}

	result := IndexBuildResult{
		Status:          "complete",
		Path:            out,
		FilesFound:      stats.FilesFound,
		ItemsIndexed:    stats.ItemsIndexed,
		ItemsSkipped:    stats.ItemsSkipped,
		Dimensions:      stats.Dimensions,
		DurationSeconds: stats.Duration.Seconds(),
		Model:           m.Name(),
	}
	if info, err := os.Stat(out); err == nil {
		result.IndexSizeBytes = info.Size()
	}

	if humanOutput {
		fmt.Printf("Build complete:\n")
		fmt.Printf("  Files found: %d\n", result.FilesFound)
		fmt.Printf("  Songs indexed: %d\n", result.ItemsIndexed)
		fmt.Printf("  Songs skipped: %d\n", result.ItemsSkipped)
		fmt.Printf("  Dimensions: %d\n", result.Dimensions)
		fmt.Printf("  Time elapsed: %s\n", formatDuration(stats.Duration))
		fmt.Printf("  Index: %s (%s)\n", out, formatBytes(result.IndexSizeBytes))
		fmt.Printf("  Model: %s\n", result.Model)
	} else {
		outputJSON(result)
	}
	return nil
}

// mustOpenModel loads the model manifest at path, exits on error.
func mustOpenModel(path string) *model.ServingModel {
	if path == "" {
		fmt.Fprintln(os.Stderr, config.HelpfulConfigMessage("model"))
		exitWithError(ExitInputError, "no model manifest given (use --model)")
	}
	m, err := model.Open(path)
	if err != nil {
		exitWithError(ExitInputError, "loading model: %v", err)
	}
	return m
}

// mustLoadIndex loads the index artifact, exits on error.
func mustLoadIndex(path string) *index.Index {
	if path == "" {
		fmt.Fprintln(os.Stderr, config.HelpfulConfigMessage("index"))
		exitWithError(ExitInputError, "no index given (use --index)")
	}
	idx, err := index.Load(path)
	if err != nil {
		if errors.Is(err, index.ErrIndexNotFound) {
			exitWithError(ExitInputError, "index not found: %s\n\nRun 'muse build-index' to create it.", path)
		}
		exitWithError(ExitError, "loading index: %v", err)
	}
	return idx
}

// IndexInfoResult is the response for index info command.
type IndexInfoResult struct {
	Path           string `json:"path"`
	Version        int    `json:"version"`
	Model          string `json:"model,omitempty"`
	Entries        int    `json:"entries"`
	Dimensions     int    `json:"dimensions"`
	Created        string `json:"created,omitempty"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe an index artifact",
	RunE:  runIndexInfo,
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	path := firstNonEmpty(infoIndex, cfg.Index, index.DefaultFileName)
	idx := mustLoadIndex(path)
	info := idx.Info()

	result := IndexInfoResult{
		Path:       path,
		Version:    info.Version,
		Model:      info.Model,
		Entries:    info.Entries,
		Dimensions: info.Dimensions,
	}
	if !info.CreatedAt.IsZero() {
		result.Created = info.CreatedAt.Format(time.RFC3339)
	}
	if st, err := os.Stat(path); err == nil {
		result.IndexSizeBytes = st.Size()
	}

	if humanOutput {
		fmt.Printf("Index: %s\n", result.Path)
		fmt.Printf("  Version: %d\n", result.Version)
		fmt.Printf("  Model: %s\n", firstNonEmpty(result.Model, "(unknown)"))
		fmt.Printf("  Songs: %d\n", result.Entries)
		fmt.Printf("  Dimensions: %d\n", result.Dimensions)
		fmt.Printf("  Created: %s\n", firstNonEmpty(result.Created, "(unknown)"))
		fmt.Printf("  Size: %s\n", formatBytes(result.IndexSizeBytes))
	} else {
		outputJSON(result)
	}
	return nil
}

// IndexCheckResult is the response for index check command.
type IndexCheckResult struct {
	Status         string   `json:"status"`
	IndexEntries   int      `json:"index_entries"`
	CorpusFiles    int      `json:"corpus_files"`
	SkippedAtBuild int      `json:"skipped_at_build"`
	Added          int      `json:"added"`
	Removed        int      `json:"removed"`
	Changed        int      `json:"changed"`
	Examples       []string `json:"examples,omitempty"`
	Model          string   `json:"model,omitempty"`
	IndexCreated   string   `json:"index_created,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

var indexCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether the index matches the corpus",
	Long: `Compare the corpus files on disk with the fingerprints recorded when
the index was built. The corpus is listed with the exclude patterns the
build used. Reports "healthy" or "stale" (exit 6).`,
	RunE: runIndexCheck,
}

// corpusDiff counts differences between a build record and the files on disk.
type corpusDiff struct {
	added, removed, changed []string
}

func (d corpusDiff) stale() bool {
	return len(d.added)+len(d.removed)+len(d.changed) > 0
}

// compareCorpus compares recorded build items with the current corpus files.
func compareCorpus(items []storage.IndexItem, files []string, fingerprint func(string) (string, error)) corpusDiff {
	recorded := make(map[string]string, len(items))
	for _, it := range items {
		recorded[it.Path] = it.Fingerprint
	}

	var d corpusDiff
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
		want, ok := recorded[f]
		if !ok {
			d.added = append(d.added, f)
			continue
		}
		got, err := fingerprint(f)
		if err != nil || got != want {
			d.changed = append(d.changed, f)
		}
	}
	for _, it := range items {
		if !present[it.Path] {
			d.removed = append(d.removed, it.Path)
		}
	}
	return d
}

// checkCorpus lists the corpus the way build did and compares it with the
// recorded items. dir overrides the recorded corpus root, and extra patterns
// are excluded on top of the recorded ones. A nil build falls back to the
// configured exclude patterns.
func checkCorpus(build *storage.IndexBuild, items []storage.IndexItem, dir string, extra []string) ([]string, corpusDiff, error) {
	exclude := cfg.Build.Exclude
	if build != nil {
		exclude = build.Exclude
		if dir == "" {
			dir = build.CorpusRoot
		}
	}
	dir = firstNonEmpty(dir, cfg.LibraryDir)
	if dir == "" {
		return nil, corpusDiff{}, errNoCorpusDir
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, corpusDiff{}, fmt.Errorf("%w: %v", index.ErrInvalidCorpus, err)
	}
	files, err := index.FindAudio(root, slices.Concat(exclude, extra))
	if err != nil {
		return nil, corpusDiff{}, err
	}
	return files, compareCorpus(items, files, index.Fingerprint), nil
}

var errNoCorpusDir = errors.New("no corpus directory given (use --audio-dir)")

func runIndexCheck(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(firstNonEmpty(checkIndex, cfg.Index, index.DefaultFileName))
	if err != nil {
		exitWithError(ExitInputError, "resolving index path: %v", err)
	}
	idx := mustLoadIndex(path)

	db := mustOpenDatabase(cfg.DBPath)
	defer db.Close()
	build, err := db.GetIndexBuild(path)
	if err != nil {
		exitWithError(ExitError, "reading build record: %v", err)
	}
	items, err := db.ListIndexItems(path)
	if err != nil {
		exitWithError(ExitError, "listing index items: %v", err)
	}
	skipped, err := db.CountIndexItems(path, storage.StatusSkipped)
	if err != nil {
		exitWithError(ExitError, "counting skipped items: %v", err)
	}

	files, diff, err := checkCorpus(build, items, checkAudio, checkExclude)
	if errors.Is(err, errNoCorpusDir) {
		fmt.Fprintln(os.Stderr, config.HelpfulConfigMessage("library_dir"))
		exitWithError(ExitInputError, "%v", err)
	}
	if err != nil {
		exitWithError(buildExitCode(err), "%v", err)
	}

	info := idx.Info()
	result := IndexCheckResult{
		Status:         "healthy",
		IndexEntries:   info.Entries,
		CorpusFiles:    len(files),
		SkippedAtBuild: skipped,
		Added:          len(diff.added),
		Removed:        len(diff.removed),
		Changed:        len(diff.changed),
		Model:          info.Model,
	}
	if !info.CreatedAt.IsZero() {
		result.IndexCreated = info.CreatedAt.Format(time.RFC3339)
	}

	exitCode := ExitSuccess
	if build == nil || diff.stale() {
		result.Status = "stale"
		result.Recommendation = "Run 'muse build-index' to update the index"
		exitCode = ExitIndexStale
		examples := append(append(append([]string{}, diff.added...), diff.removed...), diff.changed...)
		if len(examples) > 10 {
			examples = examples[:10]
		}
		result.Examples = examples
	}

	if humanOutput {
		fmt.Printf("Index Status: %s\n\n", result.Status)
		fmt.Printf("  Songs in index: %d\n", result.IndexEntries)
		fmt.Printf("  Files in corpus: %d\n", result.CorpusFiles)
		fmt.Printf("  Skipped at build: %d\n", result.SkippedAtBuild)
		fmt.Printf("  Added: %d  Removed: %d  Changed: %d\n", result.Added, result.Removed, result.Changed)
		fmt.Printf("  Model: %s\n", result.Model)
		fmt.Printf("  Created: %s\n", result.IndexCreated)
		if result.Recommendation != "" {
			fmt.Printf("\n%s\n", result.Recommendation)
		}
	} else {
		outputJSON(result)
	}

	if exitCode != ExitSuccess {
		os.Exit(exitCode)
	}
	return nil
}
