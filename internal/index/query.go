package index

import (
	"cmp"
	"slices"

	"github.com/hupe1980/vecgo/distance"
)

type scored struct {
	pos int
	sim float32
}

// Query ranks the index against a query embedding and returns up to
// opts.TopK recommendations, best first. Ties keep build order.
//
// With FilterByLabel, only entries whose title label equals predictedLabel
// survive. An entry is treated as the query itself, and dropped, when its
// id matches opts.SourceID or its similarity reaches opts.SelfThreshold.
func (idx *Index) Query(query []float32, predictedLabel string, opts QueryOptions) ([]Recommendation, error) {
	sourceID := ""
	if opts.SourceID != "" {
		sourceID = NormalizeID(opts.SourceID)
	}
	return idx.rank(query, predictedLabel, sourceID, opts, -1)
}

// FindSimilar ranks the index against the stored embedding of songID, a
// title or id of an indexed entry. Neither the entry itself nor any other
// entry sharing its id is returned.
func (idx *Index) FindSimilar(songID string, opts QueryOptions) ([]Recommendation, error) {
	want := IDFromTitle(songID)
	alt := NormalizeID(songID)
	pos := slices.IndexFunc(idx.entries, func(e Entry) bool { return e.ID == want })
	if pos < 0 {
		pos = slices.IndexFunc(idx.entries, func(e Entry) bool { return e.ID == alt })
	}
	if pos < 0 {
		return nil, ErrSongNotFound
	}
	return idx.rank(idx.entries[pos].Embedding, "", idx.entries[pos].ID, opts, pos)
}

// rank scores every entry against query. Entries whose id equals sourceID
// and the entry at position skip are dropped.
func (idx *Index) rank(query []float32, predictedLabel, sourceID string, opts QueryOptions, skip int) ([]Recommendation, error) {
	if opts.TopK < 0 {
		return nil, ErrNegativeTopK
	}
	if len(query) != idx.dim {
		return nil, &DimensionMismatchError{Got: len(query), Want: idx.dim}
	}
	if opts.TopK == 0 {
		return []Recommendation{}, nil
	}

	q := Normalize(query)
	hits := make([]scored, len(idx.entries))
	for i, e := range idx.entries {
		hits[i] = scored{pos: i, sim: distance.Dot(q, e.Embedding)}
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		return cmp.Compare(b.sim, a.sim)
	})

	label := fold(predictedLabel)

	results := make([]Recommendation, 0, min(opts.TopK, len(hits)))
	for _, h := range hits {
		if len(results) == opts.TopK {
			break
		}
		if h.pos == skip {
			continue
		}
		e := idx.entries[h.pos]
		if opts.FilterByLabel {
			if l := LabelFromTitle(e.Title); l == "" || l != label {
				continue
			}
		}
		if sourceID != "" && e.ID == sourceID {
			continue
		}
		if h.sim >= opts.SelfThreshold {
			continue
		}
		results = append(results, Recommendation{
			Title:      e.Title,
			Artist:     e.Artist,
			SongID:     e.Title,
			Cover:      e.Cover,
			Similarity: h.sim,
		})
	}
	return results, nil
}
