package index

import (
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/vecgo/distance"
	"golang.org/x/text/cases"
)

// Epsilon bounds the divisor used by Normalize. The same value applies at
// build time and at query time.
const Epsilon = 1e-12

// Normalize returns v scaled to unit L2 norm, dividing by max(‖v‖, Epsilon).
// A zero vector stays zero. The input is not modified.
func Normalize(v []float32) []float32 {
	out := slices.Clone(v)
	if len(out) == 0 {
		return out
	}
	norm := math.Sqrt(float64(distance.Dot(out, out)))
	inv := float32(1 / math.Max(norm, Epsilon))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return math.Sqrt(float64(distance.Dot(v, v)))
}

// NormalizeID derives the entry id from a file path or name: trimmed,
// backslashes read as separators, last path segment, extension stripped,
// case-folded.
func NormalizeID(path string) string {
	return fold(stripExt(baseName(path)))
}

// IDFromTitle derives an id from a stored title, which has no extension.
func IDFromTitle(title string) string {
	return fold(baseName(title))
}

// TitleFromPath returns the display title for a file: its name without
// extension, case preserved.
func TitleFromPath(path string) string {
	return stripExt(baseName(path))
}

// LabelFromTitle returns the case-folded label of a "<label>.<rest>" title,
// or "" when the title has no label prefix.
func LabelFromTitle(title string) string {
	i := strings.Index(title, ".")
	if i <= 0 {
		return ""
	}
	return fold(title[:i])
}

// New builds an index from entries, normalizing every embedding. All
// embeddings must share one nonzero dimension.
func New(entries []Entry, model string) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyIndex
	}
	dim := len(entries[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("%w: entry %q has an empty embedding", ErrIndexFormat, entries[0].Title)
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if len(e.Embedding) != dim {
			return nil, fmt.Errorf("entry %q: %w", e.Title, &DimensionMismatchError{Got: len(e.Embedding), Want: dim})
		}
		e.Embedding = Normalize(e.Embedding)
		if e.ID == "" {
			e.ID = IDFromTitle(e.Title)
		}
		out[i] = e
	}
	return &Index{
		version:   CurrentVersion,
		model:     model,
		createdAt: time.Now().UTC(),
		dim:       dim,
		entries:   out,
	}, nil
}

func baseName(path string) string {
	s := strings.ReplaceAll(strings.TrimSpace(path), `\`, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// stripExt drops the final extension. A leading dot does not start one.
func stripExt(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) == len(name) {
		return name
	}
	return name[:len(name)-len(ext)]
}

func fold(s string) string {
	return cases.Fold().String(s)
}
