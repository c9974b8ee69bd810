// Package index builds, persists, and queries the audio embedding index.
//
// An Index is produced once by a Builder (or read back with Load) and never
// modified afterwards, so one loaded Index can serve concurrent queries.
package index

import (
	"slices"
	"time"
)

const (
	// DefaultArtist is the placeholder artist recorded for every entry.
	DefaultArtist = "unknown"

	// DefaultCover is the placeholder cover reference recorded for every entry.
	DefaultCover = "/img/cover.png"

	// DefaultTopK is the number of recommendations returned by default.
	DefaultTopK = 8

	// DefaultSelfThreshold is the similarity at or above which a candidate
	// is treated as the query itself.
	DefaultSelfThreshold float32 = 0.999
)

// Entry is one indexed audio item.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Cover     string    `json:"cover,omitempty"`
	Embedding []float32 `json:"-"`
}

// Index is an immutable, ordered collection of normalized entries.
type Index struct {
	version   int
	model     string
	createdAt time.Time
	dim       int
	entries   []Entry
}

// Info summarizes an index for display.
type Info struct {
	Version    int       `json:"version"`
	Model      string    `json:"model,omitempty"`
	Entries    int       `json:"entries"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// QueryOptions controls ranking, filtering, and self-exclusion.
type QueryOptions struct {
	TopK          int
	FilterByLabel bool
	SelfThreshold float32
	// SourceID is the query's source path or id; entries with the same
	// normalized id are excluded.
	SourceID string
}

// DefaultQueryOptions returns the default query options.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		TopK:          DefaultTopK,
		SelfThreshold: DefaultSelfThreshold,
	}
}

// Recommendation is a ranked query hit.
type Recommendation struct {
	Title      string
	Artist     string
	SongID     string
	Cover      string
	Similarity float32
}

// BuildStats contains statistics from index building.
type BuildStats struct {
	FilesFound   int           `json:"files_found"`
	ItemsIndexed int           `json:"items_indexed"`
	ItemsSkipped int           `json:"items_skipped"`
	Dimensions   int           `json:"dimensions"`
	Duration     time.Duration `json:"duration"`
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Dim returns the embedding dimension.
func (idx *Index) Dim() int {
	return idx.dim
}

// Entry returns a copy of the i-th entry in build order.
func (idx *Index) Entry(i int) Entry {
	e := idx.entries[i]
	e.Embedding = slices.Clone(e.Embedding)
	return e
}

// Info returns summary metadata.
func (idx *Index) Info() Info {
	return Info{
		Version:    idx.version,
		Model:      idx.model,
		Entries:    len(idx.entries),
		Dimensions: idx.dim,
		CreatedAt:  idx.createdAt,
	}
}
