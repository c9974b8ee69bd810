// Package recommend runs the query path: extract features from one audio
// file, classify it, and rank the index for similar songs.
//
// Classification is mandatory and its failures are returned. Retrieval is
// optional: a missing index or an unresolvable embed capability yields an
// empty recommendation list and a warning.
package recommend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matsen/muse/internal/classify"
	"github.com/matsen/muse/internal/index"
	"github.com/matsen/muse/internal/model"
	"github.com/matsen/muse/internal/storage"
	"github.com/matsen/muse/internal/tensor"
)

// Options controls one inference.
type Options struct {
	TopK          int
	FilterByLabel bool
	SelfThreshold float32
	WithScores    bool
}

// DefaultOptions returns the default inference options.
func DefaultOptions() Options {
	return Options{
		TopK:          index.DefaultTopK,
		SelfThreshold: index.DefaultSelfThreshold,
	}
}

// Item is one recommended song.
type Item struct {
	Title  string   `json:"title"`
	Artist string   `json:"artist"`
	SongID string   `json:"song_id"`
	Score  *float32 `json:"score,omitempty"`
}

// Result is the output of one inference.
type Result struct {
	PredictedLabel  string  `json:"predicted_label"`
	Recommendations []Item  `json:"recommendations"`
	Confidence      float32 `json:"-"`
}

// Recorder stores predictions for telemetry.
type Recorder interface {
	RecordPrediction(storage.Prediction) error
}

// Engine answers inference requests. It is safe for concurrent use when
// its model and extractor are.
type Engine struct {
	model      model.Model
	extractor  index.Extractor
	classifier *classify.Classifier
	index      *index.Index
	recorder   Recorder
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for degradation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRecorder records every prediction.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an engine. idx may be nil, in which case every result has
// an empty recommendation list.
func New(m model.Model, extractor index.Extractor, labels []string, idx *index.Index, opts ...Option) *Engine {
	e := &Engine{
		model:      m,
		extractor:  extractor,
		classifier: classify.New(m, labels),
		index:      idx,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Infer classifies audioPath and recommends similar indexed songs.
func (e *Engine) Infer(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	t, err := e.extractor.Extract(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("extracting features: %w", err)
	}

	pred, err := e.classifier.Predict(ctx, t)
	if err != nil {
		return nil, err
	}

	recs, err := e.recommend(ctx, t, pred.Label, audioPath, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{
		PredictedLabel:  pred.Label,
		Recommendations: recs,
		Confidence:      pred.Confidence,
	}
	e.record(audioPath, result)
	return result, nil
}

func (e *Engine) recommend(ctx context.Context, t tensor.Tensor, label, audioPath string, opts Options) ([]Item, error) {
	items := []Item{}
	if e.index == nil {
		return items, nil
	}

	embedder, err := e.model.Embedder()
	if err != nil {
		e.logger.Warn("recommendations unavailable", "reason", "embed capability", "error", err)
		return items, nil
	}
	vec, err := embedder.Embed(ctx, t)
	if err != nil {
		e.logger.Warn("recommendations unavailable", "reason", "embedding failed", "error", err)
		return items, nil
	}

	recs, err := e.index.Query(vec, label, index.QueryOptions{
		TopK:          opts.TopK,
		FilterByLabel: opts.FilterByLabel,
		SelfThreshold: opts.SelfThreshold,
		SourceID:      audioPath,
	})
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	return Items(recs, opts.WithScores), nil
}

// Items converts index hits to output records.
func Items(recs []index.Recommendation, withScores bool) []Item {
	items := make([]Item, len(recs))
	for i, r := range recs {
		items[i] = Item{Title: r.Title, Artist: r.Artist, SongID: r.SongID}
		if withScores {
			score := r.Similarity
			items[i].Score = &score
		}
	}
	return items
}

func (e *Engine) record(audioPath string, r *Result) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.RecordPrediction(storage.Prediction{
		Label:           r.PredictedLabel,
		AudioPath:       audioPath,
		Confidence:      r.Confidence,
		Recommendations: len(r.Recommendations),
	})
	if err != nil {
		e.logger.Warn("recording prediction failed", "error", err)
	}
}

// LoadIndex loads the artifact at path for querying. Any failure is logged
// and yields nil, which disables recommendations.
func LoadIndex(path string, logger *slog.Logger) *index.Index {
	if path == "" {
		logger.Debug("no index configured")
		return nil
	}
	idx, err := index.Load(path)
	if index.IsUnavailable(err) {
		logger.Warn("index unavailable, recommendations disabled", "path", path, "error", err)
		return nil
	}
	if err != nil {
		logger.Error("reading index failed, recommendations disabled", "path", path, "error", err)
		return nil
	}
	logger.Debug("index loaded", "path", path, "entries", idx.Len(), "dimensions", idx.Dim())
	return idx
}
