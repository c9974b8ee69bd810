package model

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSignature is the serving signature used when a manifest names none.
const DefaultSignature = "serving_default"

// Manifest describes a served model. It is read from a YAML file such as:
//
//	name: genre-cnn
//	endpoint: http://localhost:8501
//	embed:
//	  output: embedding
//	layers:
//	  - {name: dense_1, kind: dense, activation: relu}
//	  - {name: probabilities, kind: dense, activation: softmax}
type Manifest struct {
	Name      string        `yaml:"name"`
	Endpoint  string        `yaml:"endpoint"`
	Signature string        `yaml:"signature,omitempty"`
	Classify  Binding       `yaml:"classify,omitempty"`
	Embed     Binding       `yaml:"embed,omitempty"`
	Layers    []Layer       `yaml:"layers,omitempty"`
	RateLimit float64       `yaml:"rate_limit,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// Binding names the signature output that serves a capability.
type Binding struct {
	Output string `yaml:"output,omitempty"`
}

// Layer is one entry of the model's layer listing, in network order.
type Layer struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Activation string `yaml:"activation,omitempty"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidManifest, path, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidManifest)
	}
	if m.Endpoint == "" {
		return nil, fmt.Errorf("%w: missing endpoint", ErrInvalidManifest)
	}
	if m.Signature == "" {
		m.Signature = DefaultSignature
	}
	return &m, nil
}

// EmbeddingOutput returns the output bound to the embed capability: the
// explicit binding when present, otherwise the layer ResolveEmbeddingOutput
// picks.
func (m *Manifest) EmbeddingOutput() (string, error) {
	if m.Embed.Output != "" {
		return m.Embed.Output, nil
	}
	return ResolveEmbeddingOutput(m.Layers)
}

// ResolveEmbeddingOutput picks the embedding layer of a model that declares
// no explicit binding. In order: a layer named exactly "embedding", the
// first layer whose name contains "embedding" (any case), then the last
// dense layer before a terminal softmax layer.
func ResolveEmbeddingOutput(layers []Layer) (string, error) {
	for _, l := range layers {
		if l.Name == "embedding" {
			return l.Name, nil
		}
	}
	for _, l := range layers {
		if strings.Contains(strings.ToLower(l.Name), "embedding") {
			return l.Name, nil
		}
	}
	if n := len(layers); n > 1 && strings.EqualFold(layers[n-1].Activation, "softmax") {
		for i := n - 2; i >= 0; i-- {
			if strings.HasPrefix(strings.ToLower(layers[i].Kind), "dense") {
				return layers[i].Name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no embedding layer among %d layers", ErrCapability, len(layers))
}
