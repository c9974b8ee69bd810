// Package modeltest provides in-memory models and extractors for tests.
package modeltest

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/matsen/muse/internal/model"
	"github.com/matsen/muse/internal/tensor"
)

// Model is a fake model. Classify returns Probs; Embed returns the input
// tensor data unless EmbedFunc is set. Like a real served model, its embed
// capability resolves only after the first Classify.
type Model struct {
	Probs       []float32
	EmbedFunc   func(tensor.Tensor) ([]float32, error)
	ClassifyErr error
	EmbedderErr error

	mu    sync.Mutex
	calls []string
	warm  bool
}

var _ model.Model = (*Model)(nil)

// Name implements model.Model.
func (m *Model) Name() string { return "fake" }

// Classify implements model.Classifier.
func (m *Model) Classify(_ context.Context, _ tensor.Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "classify")
	if m.ClassifyErr != nil {
		return nil, m.ClassifyErr
	}
	m.warm = true
	return slices.Clone(m.Probs), nil
}

// Embedder implements model.Model.
func (m *Model) Embedder() (model.Embedder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "embedder")
	if m.EmbedderErr != nil {
		return nil, m.EmbedderErr
	}
	if !m.warm {
		return nil, model.ErrNotWarm
	}
	return embedder{m}, nil
}

// Calls returns the capability calls made so far, in order.
func (m *Model) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

type embedder struct{ m *Model }

func (e embedder) Embed(_ context.Context, t tensor.Tensor) ([]float32, error) {
	e.m.mu.Lock()
	e.m.calls = append(e.m.calls, "embed")
	fn := e.m.EmbedFunc
	e.m.mu.Unlock()
	if fn != nil {
		return fn(t)
	}
	return slices.Clone(t.Data), nil
}

// Extractor maps file base names to feature vectors. Unknown files fail
// as if they could not be decoded.
type Extractor map[string][]float32

// Extract returns the vector registered for path's base name as a 1-D tensor.
func (x Extractor) Extract(ctx context.Context, path string) (tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Tensor{}, err
	}
	v, ok := x[filepath.Base(path)]
	if !ok {
		return tensor.Tensor{}, fmt.Errorf("decoding %s: unreadable audio", path)
	}
	return tensor.FromData(slices.Clone(v), len(v))
}
