package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/muse/internal/tensor"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit is the default number of predict calls per second.
	DefaultRateLimit = 20.0

	// unnamedOutput keys the result of a single-output signature.
	unnamedOutput = ""
)

// ServingModel calls a model behind a TensorFlow-Serving style REST API.
type ServingModel struct {
	manifest   Manifest
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string

	mu      sync.Mutex
	outputs []string // output names seen on the first successful call
}

// ServingOption configures a ServingModel.
type ServingOption func(*ServingModel)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ServingOption {
	return func(s *ServingModel) {
		s.httpClient = hc
	}
}

// WithBaseURL overrides the manifest endpoint (for testing).
func WithBaseURL(url string) ServingOption {
	return func(s *ServingModel) {
		s.baseURL = url
	}
}

// WithRateLimit sets the maximum predict calls per second.
func WithRateLimit(perSecond float64) ServingOption {
	return func(s *ServingModel) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewServingModel creates a client for the model described by m.
func NewServingModel(m Manifest, opts ...ServingOption) *ServingModel {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := m.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if m.Signature == "" {
		m.Signature = DefaultSignature
	}
	s := &ServingModel{
		manifest:   m,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(limit), 1),
		baseURL:    strings.TrimRight(m.Endpoint, "/"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the manifest at path and returns a client for it.
func Open(path string, opts ...ServingOption) (*ServingModel, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return NewServingModel(*m, opts...), nil
}

// Name returns the served model name.
func (s *ServingModel) Name() string {
	return s.manifest.Name
}

// Classify returns the class probabilities for t.
func (s *ServingModel) Classify(ctx context.Context, t tensor.Tensor) ([]float32, error) {
	outputs, err := s.predict(ctx, t)
	if err != nil {
		return nil, err
	}
	name, err := s.classifyOutput(outputs)
	if err != nil {
		return nil, err
	}
	return outputs[name], nil
}

// Embedder resolves the embed capability. It fails with ErrNotWarm until a
// predict call has succeeded, and with ErrCapability when the bound output
// is not exposed by the signature.
func (s *ServingModel) Embedder() (Embedder, error) {
	s.mu.Lock()
	seen := s.outputs
	s.mu.Unlock()
	if seen == nil {
		return nil, ErrNotWarm
	}

	name, err := s.manifest.EmbeddingOutput()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(seen, name) {
		return nil, fmt.Errorf("%w: output %q not exposed by signature %q (have %v)",
			ErrCapability, name, s.manifest.Signature, seen)
	}
	return &servingEmbedder{model: s, output: name}, nil
}

type servingEmbedder struct {
	model  *ServingModel
	output string
}

// Embed returns the embedding output for t.
func (e *servingEmbedder) Embed(ctx context.Context, t tensor.Tensor) ([]float32, error) {
	outputs, err := e.model.predict(ctx, t)
	if err != nil {
		return nil, err
	}
	vec, ok := outputs[e.output]
	if !ok {
		return nil, fmt.Errorf("%w: output %q missing from response", ErrInvalidResponse, e.output)
	}
	return vec, nil
}

// classifyOutput picks the output holding class probabilities.
func (s *ServingModel) classifyOutput(outputs map[string][]float32) (string, error) {
	if name := s.manifest.Classify.Output; name != "" {
		if _, ok := outputs[name]; !ok {
			return "", fmt.Errorf("%w: classify output %q missing from response", ErrCapability, name)
		}
		return name, nil
	}
	if len(outputs) == 1 {
		for name := range outputs {
			return name, nil
		}
	}
	if n := len(s.manifest.Layers); n > 0 {
		if name := s.manifest.Layers[n-1].Name; name != "" {
			if _, ok := outputs[name]; ok {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: cannot tell which of %d outputs holds probabilities", ErrCapability, len(outputs))
}

// predict runs one instance through the signature and returns its outputs
// flattened to vectors.
func (s *ServingModel) predict(ctx context.Context, t tensor.Tensor) (map[string][]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(predictRequest{
		SignatureName: s.manifest.Signature,
		Instances:     []any{t.Nested()},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", s.baseURL, s.manifest.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: formatErrorBody(resp.Body)}
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrInvalidResponse, err)
	}
	if len(result.Predictions) == 0 {
		return nil, fmt.Errorf("%w: no predictions", ErrInvalidResponse)
	}

	outputs, err := parsePrediction(result.Predictions[0])
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.outputs == nil {
		names := make([]string, 0, len(outputs))
		for name := range outputs {
			names = append(names, name)
		}
		slices.Sort(names)
		s.outputs = names
	}
	s.mu.Unlock()

	return outputs, nil
}

// parsePrediction reads one prediction: a bare array for single-output
// signatures or an object keyed by output name.
func parsePrediction(raw json.RawMessage) (map[string][]float32, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var named map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &named); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		outputs := make(map[string][]float32, len(named))
		for name, v := range named {
			vec, err := flatten(v)
			if err != nil {
				return nil, fmt.Errorf("output %q: %w", name, err)
			}
			outputs[name] = vec
		}
		return outputs, nil
	}
	vec, err := flatten(trimmed)
	if err != nil {
		return nil, err
	}
	return map[string][]float32{unnamedOutput: vec}, nil
}

// flatten reads a number or nested array of numbers in row-major order.
func flatten(raw json.RawMessage) ([]float32, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	var out []float32
	var walk func(any) error
	walk = func(v any) error {
		switch x := v.(type) {
		case float64:
			out = append(out, float32(x))
		case []any:
			for _, e := range x {
				if err := walk(e); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: unexpected value of type %T", ErrInvalidResponse, v)
		}
		return nil
	}
	if err := walk(v); err != nil {
		return nil, err
	}
	return out, nil
}

// formatErrorBody reads and formats the response body for error messages.
func formatErrorBody(body io.Reader) string {
	respBody, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return fmt.Sprintf("(failed to read response body: %v)", err)
	}
	return strings.TrimSpace(string(respBody))
}

// predictRequest is the request body for the predict API.
type predictRequest struct {
	SignatureName string `json:"signature_name,omitempty"`
	Instances     []any  `json:"instances"`
}

// predictResponse is the response from the predict API.
type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
}
