// Package model is the client side of the audio classification model: a
// classify capability that returns label probabilities and an embed
// capability that returns a fixed-length vector.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/matsen/muse/internal/tensor"
)

// Errors returned by model loading and inference.
var (
	// ErrManifestNotFound indicates the model manifest file does not exist.
	ErrManifestNotFound = errors.New("model manifest not found")

	// ErrInvalidManifest indicates a manifest missing required fields.
	ErrInvalidManifest = errors.New("invalid model manifest")

	// ErrCapability indicates a capability the model cannot provide.
	ErrCapability = errors.New("model capability unavailable")

	// ErrNotWarm indicates the embed capability was requested before the
	// model processed any input.
	ErrNotWarm = errors.New("model has not processed any input yet")

	// ErrInvalidResponse indicates an unexpected response from the model server.
	ErrInvalidResponse = errors.New("invalid response from model server")
)

// Classifier maps an input tensor to a probability vector.
type Classifier interface {
	Classify(ctx context.Context, t tensor.Tensor) ([]float32, error)
}

// Embedder maps an input tensor to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, t tensor.Tensor) ([]float32, error)
}

// Model exposes both capabilities. Embedder resolves the embed capability
// and may only succeed after Classify has run on at least one tensor.
type Model interface {
	Classifier
	Embedder() (Embedder, error)
	Name() string
}

// APIError is a non-success response from the model server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model server returned status %d: %s", e.StatusCode, e.Message)
}

// IsCapability reports whether err means a capability is unavailable.
func IsCapability(err error) bool {
	return errors.Is(err, ErrCapability) || errors.Is(err, ErrNotWarm)
}

// IsNotFound reports whether the model server did not know the model.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}
