package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	// DefaultFileName is the conventional artifact file name.
	DefaultFileName = "embeddings.gob"

	// CurrentVersion is the artifact format version written by Save.
	// Artifacts without a version field are read as version 0.
	CurrentVersion = 1
)

// Artifact field names. Readers try each list in order.
var (
	matrixFields = []string{"E", "embeddings"}
	coverFields  = []string{"covers", "paths"}
)

// archive is the on-disk form: named arrays, one per field.
type archive map[string]any

func init() {
	gob.Register([][]float32(nil))
}

// Save writes the index to path. The artifact is written to a temporary
// file and renamed into place while holding an advisory lock on
// path+".lock".
func (idx *Index) Save(path string) error {
	return idx.save(path, nil)
}

// save writes the artifact and, once it is in place, runs commit before
// releasing the lock.
func (idx *Index) save(path string, commit func() error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrArtifactLocked, path)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := f.Name()

	if err := idx.encode(f); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	if commit != nil {
		return commit()
	}
	return nil
}

func (idx *Index) encode(w io.Writer) error {
	n := len(idx.entries)
	matrix := make([][]float32, n)
	titles := make([]string, n)
	artists := make([]string, n)
	covers := make([]string, n)
	ids := make([]string, n)
	for i, e := range idx.entries {
		matrix[i] = e.Embedding
		titles[i] = e.Title
		artists[i] = e.Artist
		covers[i] = e.Cover
		ids[i] = e.ID
	}
	a := archive{
		"version":    CurrentVersion,
		"model":      idx.model,
		"created_at": idx.createdAt.UTC().Format(time.RFC3339),
		"E":          matrix,
		"titles":     titles,
		"artists":    artists,
		"covers":     covers,
		"ids":        ids,
	}
	return gob.NewEncoder(w).Encode(a)
}

// Load reads an index artifact. It returns ErrIndexNotFound when the file
// does not exist, ErrIndexFormat when no recognizable embedding matrix is
// present, and ErrUnsupportedVersion for artifacts newer than this reader.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("opening index file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads an index artifact from r.
func Decode(r io.Reader) (*Index, error) {
	var a archive
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrIndexFormat, err)
	}
	return a.index()
}

func (a archive) index() (*Index, error) {
	version, _ := a["version"].(int)
	if version > CurrentVersion {
		return nil, fmt.Errorf("%w: got %d, want <= %d (rebuild with 'muse build-index')",
			ErrUnsupportedVersion, version, CurrentVersion)
	}

	matrix, field, err := a.matrix()
	if err != nil {
		return nil, err
	}
	n := len(matrix)

	titles, err := a.strings("titles", n)
	if err != nil {
		return nil, err
	}
	artists, err := a.strings("artists", n)
	if err != nil {
		return nil, err
	}
	ids, err := a.strings("ids", n)
	if err != nil {
		return nil, err
	}
	var covers []string
	for _, name := range coverFields {
		if covers, err = a.strings(name, n); err != nil {
			return nil, err
		}
		if covers != nil {
			break
		}
	}

	entries := make([]Entry, n)
	for i, row := range matrix {
		if len(row) != len(matrix[0]) {
			return nil, fmt.Errorf("%w: %s row %d has %d columns, want %d", ErrIndexFormat, field, i, len(row), len(matrix[0]))
		}
		for _, v := range row {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return nil, fmt.Errorf("%w: %s row %d has non-finite values", ErrIndexFormat, field, i)
			}
		}
		e := Entry{
			Title:     fmt.Sprintf("track_%d", i),
			Artist:    DefaultArtist,
			Embedding: row,
		}
		if titles != nil {
			e.Title = titles[i]
		}
		if artists != nil && artists[i] != "" {
			e.Artist = artists[i]
		}
		if covers != nil {
			e.Cover = covers[i]
		}
		if ids != nil {
			e.ID = ids[i]
		}
		entries[i] = e
	}

	model, _ := a["model"].(string)
	idx, err := New(entries, model)
	if err != nil {
		if errors.Is(err, ErrEmptyIndex) || IsDimensionMismatch(err) {
			return nil, fmt.Errorf("%w: %v", ErrIndexFormat, err)
		}
		return nil, err
	}
	idx.version = version
	idx.createdAt = time.Time{}
	if s, ok := a["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			idx.createdAt = t
		}
	}
	return idx, nil
}

// matrix returns the first recognized embedding field.
func (a archive) matrix() ([][]float32, string, error) {
	for _, name := range matrixFields {
		v, ok := a[name]
		if !ok {
			continue
		}
		m, ok := v.([][]float32)
		if !ok {
			return nil, name, fmt.Errorf("%w: field %q has type %T", ErrIndexFormat, name, v)
		}
		if len(m) == 0 {
			return nil, name, fmt.Errorf("%w: field %q is empty", ErrIndexFormat, name)
		}
		return m, name, nil
	}
	return nil, "", fmt.Errorf("%w: no embedding field (tried %v)", ErrIndexFormat, matrixFields)
}

// strings returns an optional string array of length n, or nil if absent.
func (a archive) strings(name string, n int) ([]string, error) {
	v, ok := a[name]
	if !ok {
		return nil, nil
	}
	s, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("%w: field %q has type %T", ErrIndexFormat, name, v)
	}
	if len(s) != n {
		return nil, fmt.Errorf("%w: field %q has %d values, want %d", ErrIndexFormat, name, len(s), n)
	}
	return s, nil
}
