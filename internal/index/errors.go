package index

import (
	"errors"
	"fmt"
)

// Errors returned by index building, persistence, and queries.
var (
	ErrIndexNotFound      = errors.New("index artifact not found")
	ErrIndexFormat        = errors.New("unrecognized index format")
	ErrUnsupportedVersion = errors.New("unsupported index version")
	ErrArtifactLocked     = errors.New("index artifact is locked by another build")

	ErrInvalidCorpus   = errors.New("invalid corpus directory")
	ErrNoAudio         = errors.New("no recognized audio files found")
	ErrEmptyIndex      = errors.New("no embeddings produced")
	ErrBuilderConsumed = errors.New("builder already used")
	ErrZeroVector      = errors.New("embedding has zero norm")

	ErrNegativeTopK = errors.New("topK must not be negative")
	ErrSongNotFound = errors.New("song not in index")
)

// DimensionMismatchError reports a vector whose length differs from the
// index dimension.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: got %d, index has %d", e.Got, e.Want)
}

// IsDimensionMismatch reports whether err is or wraps a DimensionMismatchError.
func IsDimensionMismatch(err error) bool {
	var dm *DimensionMismatchError
	return errors.As(err, &dm)
}

// IsUnavailable reports whether err means the artifact cannot serve queries
// (missing, unrecognized, or written by a newer version).
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrIndexNotFound) ||
		errors.Is(err, ErrIndexFormat) ||
		errors.Is(err, ErrUnsupportedVersion)
}
