package index

import (
	"bytes"
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gofrs/flock"
)

func writeArchive(t *testing.T, path string, a archive) {
	t.Helper()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		t.Fatalf("encoding archive: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", DefaultFileName)

	idx := mustIndex(t, []Entry{
		{ID: "rock.00030", Title: "rock.00030", Artist: "unknown", Cover: DefaultCover, Embedding: []float32{3, 4}},
		{ID: "jazz.00001", Title: "jazz.00001", Artist: "Someone", Embedding: []float32{0, 1}},
	})
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Len() != 2 || loaded.Dim() != 2 {
		t.Fatalf("unexpected shape: len=%d dim=%d", loaded.Len(), loaded.Dim())
	}
	for i := range idx.Len() {
		want, got := idx.Entry(i), loaded.Entry(i)
		if want.ID != got.ID || want.Title != got.Title || want.Artist != got.Artist || want.Cover != got.Cover {
			t.Errorf("entry %d: got %+v, want %+v", i, got, want)
		}
		if !slices.Equal(want.Embedding, got.Embedding) {
			t.Errorf("entry %d embedding: got %v, want %v", i, got.Embedding, want.Embedding)
		}
	}

	info := loaded.Info()
	if info.Model != "test-model" || info.Version != CurrentVersion || info.CreatedAt.IsZero() {
		t.Errorf("unexpected info: %+v", info)
	}

	q := []float32{1, 1}
	before, _ := idx.Query(q, "", DefaultQueryOptions())
	after, _ := loaded.Query(q, "", DefaultQueryOptions())
	if !slices.Equal(titles(before), titles(after)) {
		t.Errorf("query results differ after reload: %v vs %v", titles(before), titles(after))
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "nested", "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestLoad_LegacyFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.gob")
	writeArchive(t, path, archive{
		"embeddings": [][]float32{{1, 0}, {0, 2}},
		"paths":      []string{"/covers/a.png", "/covers/b.png"},
	})

	idx, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	e := idx.Entry(1)
	if e.Title != "track_1" || e.Artist != DefaultArtist || e.Cover != "/covers/b.png" || e.ID != "track_1" {
		t.Errorf("unexpected legacy entry: %+v", e)
	}
	if e.Embedding[1] != 1 {
		t.Errorf("legacy rows not normalized: %v", e.Embedding)
	}
	if idx.Info().Version != 0 {
		t.Errorf("Version = %d, want 0", idx.Info().Version)
	}
}

func TestLoad_DottedTitlesGetFullIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "titles.gob")
	writeArchive(t, path, archive{
		"E":      [][]float32{{1, 0}, {0, 1}},
		"titles": []string{"rock.00030", "Jazz.00002"},
	})
	idx, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := idx.Entry(0).ID; got != "rock.00030" {
		t.Errorf("ID = %q, want rock.00030", got)
	}
	if _, err := idx.FindSimilar("jazz.00002.wav", DefaultQueryOptions()); err != nil {
		t.Errorf("FindSimilar by file name failed: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		a    archive
		want error
	}{
		{"no matrix", archive{"titles": []string{"a"}}, ErrIndexFormat},
		{"empty matrix", archive{"E": [][]float32{}}, ErrIndexFormat},
		{"ragged rows", archive{"E": [][]float32{{1, 0}, {1}}}, ErrIndexFormat},
		{"title count mismatch", archive{"E": [][]float32{{1, 0}}, "titles": []string{"a", "b"}}, ErrIndexFormat},
		{"wrong matrix type", archive{"E": []string{"x"}}, ErrIndexFormat},
		{"newer version", archive{"version": CurrentVersion + 1, "E": [][]float32{{1}}}, ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultFileName)
			writeArchive(t, path, tt.a)
			_, err := Load(path)
			if !errors.Is(err, tt.want) {
				t.Errorf("Load error = %v, want %v", err, tt.want)
			}
			if !IsUnavailable(err) {
				t.Errorf("IsUnavailable(%v) = false", err)
			}
		})
	}
}

func TestLoad_NotFoundAndGarbage(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.gob")); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.gob")
	if err := os.WriteFile(garbage, []byte("not a gob stream"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(garbage); !errors.Is(err, ErrIndexFormat) {
		t.Errorf("expected ErrIndexFormat, got %v", err)
	}
}

func TestSave_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer lock.Unlock()

	idx := mustIndex(t, []Entry{{Title: "a", Embedding: []float32{1}}})
	if err := idx.Save(path); !errors.Is(err, ErrArtifactLocked) {
		t.Errorf("expected ErrArtifactLocked, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("artifact written despite lock: %v", err)
	}
}
