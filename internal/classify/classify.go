// Package classify maps model probability vectors to genre labels.
package classify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matsen/muse/internal/model"
	"github.com/matsen/muse/internal/tensor"
)

// ErrNoProbabilities is returned when the model yields an empty vector.
var ErrNoProbabilities = errors.New("model returned no probabilities")

// Prediction is the classifier's decision for one input.
type Prediction struct {
	Index      int     `json:"index"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Argmax returns the index of the largest value, the lowest index on ties,
// or -1 for an empty slice.
func Argmax(probs []float32) int {
	best := -1
	for i, p := range probs {
		if best < 0 || p > probs[best] {
			best = i
		}
	}
	return best
}

// Label returns labels[idx], or "class_<idx>" when idx is out of range.
func Label(idx int, labels []string) string {
	if idx >= 0 && idx < len(labels) {
		return labels[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// LoadLabels reads one label per line, ignoring blank lines. An empty path
// or a missing file yields no labels and no error.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	return labels, nil
}

// Classifier predicts labels with a model and a label list.
type Classifier struct {
	model  model.Classifier
	labels []string
}

// New creates a classifier. labels may be nil.
func New(m model.Classifier, labels []string) *Classifier {
	return &Classifier{model: m, labels: labels}
}

// Predict classifies t.
func (c *Classifier) Predict(ctx context.Context, t tensor.Tensor) (Prediction, error) {
	probs, err := c.model.Classify(ctx, t)
	if err != nil {
		return Prediction{}, fmt.Errorf("classifying: %w", err)
	}
	idx := Argmax(probs)
	if idx < 0 {
		return Prediction{}, ErrNoProbabilities
	}
	return Prediction{
		Index:      idx,
		Label:      Label(idx, c.labels),
		Confidence: probs[idx],
	}, nil
}
