package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/matsen/muse/internal/model"
	"github.com/matsen/muse/internal/storage"
	"github.com/matsen/muse/internal/tensor"
)

// Extractor turns an audio file into a model input tensor.
type Extractor interface {
	Extract(ctx context.Context, path string) (tensor.Tensor, error)
}

// Builder constructs an index from an audio corpus. A Builder owns its
// buffers and can run Build only once. Per-file records reach the database
// only through Save, after the artifact is written.
type Builder struct {
	model     model.Model
	extractor Extractor
	db        *storage.DB
	logger    *slog.Logger
	progress  ProgressReporter
	exclude   []string

	consumed bool
	root     string
	entries  []Entry
	records  []storage.IndexItem
	embedder model.Embedder
	dim      int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger used for per-item warnings and progress lines.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// WithProgress sets a progress reporter called after every item.
func WithProgress(p ProgressReporter) BuilderOption {
	return func(b *Builder) { b.progress = p }
}

// WithExclude sets doublestar patterns for files to leave out of the corpus.
func WithExclude(patterns []string) BuilderOption {
	return func(b *Builder) { b.exclude = patterns }
}

// WithDB records per-file fingerprints in db on Save, for staleness checks.
func WithDB(db *storage.DB) BuilderOption {
	return func(b *Builder) { b.db = db }
}

// NewBuilder creates a new index builder.
func NewBuilder(m model.Model, extractor Extractor, opts ...BuilderOption) *Builder {
	b := &Builder{
		model:     m,
		extractor: extractor,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build walks corpusRoot and returns the finished index.
//
// The model is warmed up on the first item that extracts cleanly before its
// embed capability is resolved. Items that fail to decode, extract, or embed
// are logged and skipped.
func (b *Builder) Build(ctx context.Context, corpusRoot string) (*Index, *BuildStats, error) {
	if b.consumed {
		return nil, nil, ErrBuilderConsumed
	}
	b.consumed = true
	startTime := time.Now()

	files, err := FindAudio(corpusRoot, b.exclude)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w in %s", ErrNoAudio, corpusRoot)
	}

	stats := &BuildStats{FilesFound: len(files)}
	b.logger.Info("building index", "corpus", corpusRoot, "files", len(files))

	b.root = corpusRoot

	total := len(files)
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		status := storage.StatusIndexed
		if err := b.add(ctx, path); err != nil {
			if isFatal(err) {
				return nil, nil, err
			}
			status = storage.StatusSkipped
			stats.ItemsSkipped++
			b.logger.Warn("skipping item", "path", path, "error", err)
		} else {
			stats.ItemsIndexed++
		}

		b.record(path, status)

		processed := i + 1
		if processed%ProgressEvery == 0 {
			b.logger.Info("progress", "processed", processed, "total", total, "indexed", stats.ItemsIndexed)
		}
		if b.progress != nil {
			b.progress.OnProgress(processed, total)
		}
	}

	if len(b.entries) == 0 {
		return nil, nil, fmt.Errorf("%w: %d files found, all skipped", ErrEmptyIndex, total)
	}

	idx, err := New(b.entries, b.model.Name())
	b.entries = nil
	if err != nil {
		return nil, nil, err
	}

	stats.Dimensions = idx.Dim()
	stats.Duration = time.Since(startTime)
	b.logger.Info("index built",
		"indexed", stats.ItemsIndexed,
		"skipped", stats.ItemsSkipped,
		"dimensions", stats.Dimensions,
		"duration", stats.Duration)
	return idx, stats, nil
}

// add processes one file. The first successful extraction warms the model
// up and resolves the embed capability.
func (b *Builder) add(ctx context.Context, path string) error {
	t, err := b.extractor.Extract(ctx, path)
	if err != nil {
		return err
	}

	if b.embedder == nil {
		if _, err := b.model.Classify(ctx, t); err != nil {
			return &fatalError{fmt.Errorf("warming up model: %w", err)}
		}
		emb, err := b.model.Embedder()
		if err != nil {
			return &fatalError{fmt.Errorf("resolving embed capability: %w", err)}
		}
		b.embedder = emb
		b.logger.Debug("model warmed up", "path", path)
	}

	vec, err := b.embedder.Embed(ctx, t)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if b.dim == 0 {
		b.dim = len(vec)
	}
	if len(vec) != b.dim {
		return &DimensionMismatchError{Got: len(vec), Want: b.dim}
	}
	if Norm(vec) == 0 {
		return ErrZeroVector
	}

	b.entries = append(b.entries, Entry{
		ID:        NormalizeID(path),
		Title:     TitleFromPath(path),
		Artist:    DefaultArtist,
		Cover:     DefaultCover,
		Embedding: Normalize(vec),
	})
	return nil
}

func (b *Builder) record(path, status string) {
	if b.db == nil {
		return
	}
	item := storage.IndexItem{
		Path:   path,
		SongID: TitleFromPath(path),
		Status: status,
	}
	if info, err := os.Stat(path); err == nil {
		item.Size = info.Size()
	}
	if fp, err := Fingerprint(path); err == nil {
		item.Fingerprint = fp
	} else {
		b.logger.Debug("fingerprint failed", "path", path, "error", err)
	}
	b.records = append(b.records, item)
}

// Save writes idx to path. With a database, the files seen by Build then
// replace the build record of the absolute path in one transaction while
// the artifact lock is still held. A failed build or save leaves earlier
// records untouched.
func (b *Builder) Save(idx *Index, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving index path: %w", err)
	}
	if b.db == nil {
		return idx.Save(abs)
	}
	return idx.save(abs, func() error {
		build := storage.IndexBuild{
			IndexPath:  abs,
			CorpusRoot: b.root,
			Exclude:    b.exclude,
			ModelName:  b.model.Name(),
			BuiltAt:    time.Now().Unix(),
		}
		if err := b.db.ReplaceIndexBuild(build, b.records); err != nil {
			return fmt.Errorf("recording build: %w", err)
		}
		return nil
	})
}

// fatalError marks a per-item failure that must abort the whole build.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func isFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
