package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gofrs/flock"

	"github.com/matsen/muse/internal/model"
	"github.com/matsen/muse/internal/model/modeltest"
	"github.com/matsen/muse/internal/storage"
	"github.com/matsen/muse/internal/tensor"
)

// writeCorpus creates placeholder files under a fresh directory.
func writeCorpus(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func fakeModel() *modeltest.Model {
	return &modeltest.Model{Probs: []float32{0.1, 0.9}}
}

func TestBuild(t *testing.T) {
	root := writeCorpus(t, "rock/rock.00001.wav", "jazz/jazz.00001.mp3", "notes.txt")
	x := modeltest.Extractor{
		"rock.00001.wav": {3, 4},
		"jazz.00001.mp3": {0, 2},
	}

	idx, stats, err := NewBuilder(fakeModel(), x).Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if stats.FilesFound != 2 || stats.ItemsIndexed != 2 || stats.ItemsSkipped != 0 || stats.Dimensions != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// Lexical walk order puts jazz/ before rock/.
	first, second := idx.Entry(0), idx.Entry(1)
	if first.Title != "jazz.00001" || second.Title != "rock.00001" {
		t.Fatalf("unexpected order: %q, %q", first.Title, second.Title)
	}
	if second.ID != "rock.00001" || second.Artist != DefaultArtist || second.Cover != DefaultCover {
		t.Errorf("unexpected entry: %+v", second)
	}
	if n := Norm(second.Embedding); n < 0.999999 || n > 1.000001 {
		t.Errorf("embedding not unit length: %v", second.Embedding)
	}
	if idx.Info().Model != "fake" {
		t.Errorf("Model = %q, want fake", idx.Info().Model)
	}
}

func TestBuild_WarmsUpBeforeResolvingEmbedder(t *testing.T) {
	root := writeCorpus(t, "a.wav", "b.wav", "c.wav")
	x := modeltest.Extractor{"a.wav": {1, 0}, "b.wav": {0, 1}, "c.wav": {1, 1}}
	m := fakeModel()

	if _, _, err := NewBuilder(m, x).Build(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	want := []string{"classify", "embedder", "embed", "embed", "embed"}
	if got := m.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestBuild_WarmUpWaitsForReadableFile(t *testing.T) {
	root := writeCorpus(t, "a.wav", "b.wav")
	x := modeltest.Extractor{"b.wav": {1, 0}}
	m := fakeModel()

	idx, stats, err := NewBuilder(m, x).Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 1 || stats.ItemsSkipped != 1 {
		t.Errorf("len=%d skipped=%d, want 1 and 1", idx.Len(), stats.ItemsSkipped)
	}
	if got := m.Calls(); len(got) == 0 || got[0] != "classify" {
		t.Errorf("calls = %v, want classify first", got)
	}
}

func TestBuild_SkipsBadItems(t *testing.T) {
	root := writeCorpus(t, "a.wav", "b.wav", "c.wav", "d.wav", "e.wav")
	x := modeltest.Extractor{
		"a.wav": {1, 0},
		"c.wav": {0, 0},
		"d.wav": {1, 2, 3},
		"e.wav": {0, 1},
	}

	idx, stats, err := NewBuilder(fakeModel(), x).Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ItemsIndexed != 2 || stats.ItemsSkipped != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if idx.Len() != 2 || idx.Entry(1).Title != "e" {
		t.Errorf("unexpected entries: len=%d", idx.Len())
	}
}

func TestBuild_EmbedFailureSkipsItem(t *testing.T) {
	root := writeCorpus(t, "a.wav", "b.wav")
	x := modeltest.Extractor{"a.wav": {1, 0}, "b.wav": {0, 1}}
	m := fakeModel()
	m.EmbedFunc = func(in tensor.Tensor) ([]float32, error) {
		if in.Data[0] == 1 {
			return nil, errors.New("server hiccup")
		}
		return in.Data, nil
	}

	idx, stats, err := NewBuilder(m, x).Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 1 || stats.ItemsSkipped != 1 || idx.Entry(0).Title != "b" {
		t.Errorf("unexpected result: len=%d stats=%+v", idx.Len(), stats)
	}
}

func TestBuild_Errors(t *testing.T) {
	t.Run("missing corpus", func(t *testing.T) {
		b := NewBuilder(fakeModel(), modeltest.Extractor{})
		_, _, err := b.Build(context.Background(), filepath.Join(t.TempDir(), "nope"))
		if !errors.Is(err, ErrInvalidCorpus) {
			t.Errorf("expected ErrInvalidCorpus, got %v", err)
		}
	})

	t.Run("corpus is a file", func(t *testing.T) {
		root := writeCorpus(t, "a.wav")
		b := NewBuilder(fakeModel(), modeltest.Extractor{})
		_, _, err := b.Build(context.Background(), filepath.Join(root, "a.wav"))
		if !errors.Is(err, ErrInvalidCorpus) {
			t.Errorf("expected ErrInvalidCorpus, got %v", err)
		}
	})

	t.Run("no audio", func(t *testing.T) {
		root := writeCorpus(t, "readme.md", "cover.png")
		b := NewBuilder(fakeModel(), modeltest.Extractor{})
		if _, _, err := b.Build(context.Background(), root); !errors.Is(err, ErrNoAudio) {
			t.Errorf("expected ErrNoAudio, got %v", err)
		}
	})

	t.Run("everything skipped", func(t *testing.T) {
		root := writeCorpus(t, "a.wav", "b.wav")
		b := NewBuilder(fakeModel(), modeltest.Extractor{})
		if _, _, err := b.Build(context.Background(), root); !errors.Is(err, ErrEmptyIndex) {
			t.Errorf("expected ErrEmptyIndex, got %v", err)
		}
	})

	t.Run("embed capability missing", func(t *testing.T) {
		root := writeCorpus(t, "a.wav", "b.wav")
		m := fakeModel()
		m.EmbedderErr = fmt.Errorf("%w: no embedding layer", model.ErrCapability)
		b := NewBuilder(m, modeltest.Extractor{"a.wav": {1}, "b.wav": {1}})
		_, _, err := b.Build(context.Background(), root)
		if !model.IsCapability(err) {
			t.Errorf("expected capability error, got %v", err)
		}
		if slices.Contains(m.Calls(), "embed") {
			t.Error("embed called despite missing capability")
		}
	})

	t.Run("warm-up classify fails", func(t *testing.T) {
		root := writeCorpus(t, "a.wav", "b.wav")
		m := fakeModel()
		m.ClassifyErr = errors.New("model crashed")
		b := NewBuilder(m, modeltest.Extractor{"a.wav": {1}, "b.wav": {1}})
		if _, _, err := b.Build(context.Background(), root); err == nil || errors.Is(err, ErrEmptyIndex) {
			t.Errorf("expected warm-up failure, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		root := writeCorpus(t, "a.wav")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		b := NewBuilder(fakeModel(), modeltest.Extractor{"a.wav": {1}})
		if _, _, err := b.Build(ctx, root); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestBuild_OnlyOnce(t *testing.T) {
	root := writeCorpus(t, "a.wav")
	b := NewBuilder(fakeModel(), modeltest.Extractor{"a.wav": {1, 0}})
	if _, _, err := b.Build(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Build(context.Background(), root); !errors.Is(err, ErrBuilderConsumed) {
		t.Errorf("expected ErrBuilderConsumed, got %v", err)
	}
}

func TestBuild_Progress(t *testing.T) {
	var names []string
	x := modeltest.Extractor{}
	for i := range 25 {
		name := fmt.Sprintf("rock.%05d.wav", i)
		names = append(names, name)
		x[name] = []float32{1, float32(i)}
	}
	root := writeCorpus(t, names...)

	var calls [][2]int
	progress := ProgressFunc(func(current, total int) {
		calls = append(calls, [2]int{current, total})
	})
	if _, _, err := NewBuilder(fakeModel(), x, WithProgress(progress)).Build(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 25 {
		t.Fatalf("got %d progress calls, want 25", len(calls))
	}
	if calls[0] != [2]int{1, 25} || calls[24] != [2]int{25, 25} {
		t.Errorf("unexpected progress calls: first=%v last=%v", calls[0], calls[24])
	}
}

func TestBuild_Exclude(t *testing.T) {
	root := writeCorpus(t, "keep/a.wav", "drafts/b.wav", "c.tmp.wav")
	x := modeltest.Extractor{"a.wav": {1, 0}, "b.wav": {0, 1}, "c.tmp.wav": {1, 1}}

	b := NewBuilder(fakeModel(), x, WithExclude([]string{"drafts/**", "*.tmp.wav"}))
	idx, stats, err := b.Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesFound != 1 || idx.Entry(0).Title != "a" {
		t.Errorf("unexpected result: stats=%+v", stats)
	}
}

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "muse.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBuild_RecordsItemsOnSave(t *testing.T) {
	db := openTestDB(t)
	root := writeCorpus(t, "a.wav", "b.wav", "drafts/c.wav")
	x := modeltest.Extractor{"a.wav": {1, 0}}
	out := filepath.Join(t.TempDir(), DefaultFileName)

	b := NewBuilder(fakeModel(), x, WithDB(db), WithExclude([]string{"drafts/**"}))
	idx, _, err := b.Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountIndexItems(out, ""); n != 0 {
		t.Fatalf("recorded %d items before Save", n)
	}
	if err := b.Save(idx, out); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	items, err := db.ListIndexItems(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Status != storage.StatusIndexed || items[1].Status != storage.StatusSkipped {
		t.Errorf("unexpected statuses: %q, %q", items[0].Status, items[1].Status)
	}
	want, _ := Fingerprint(filepath.Join(root, "a.wav"))
	if items[0].Fingerprint != want || items[0].SongID != "a" {
		t.Errorf("unexpected item: %+v", items[0])
	}

	build, err := db.GetIndexBuild(out)
	if err != nil || build == nil {
		t.Fatalf("GetIndexBuild = %v, %v", build, err)
	}
	if build.CorpusRoot != root || !slices.Equal(build.Exclude, []string{"drafts/**"}) || build.ModelName != "fake" {
		t.Errorf("unexpected build record: %+v", build)
	}
}

func TestBuild_FailureKeepsRecords(t *testing.T) {
	db := openTestDB(t)
	root := writeCorpus(t, "a.wav", "b.wav")
	out := filepath.Join(t.TempDir(), DefaultFileName)

	good := NewBuilder(fakeModel(), modeltest.Extractor{"a.wav": {1, 0}, "b.wav": {0, 1}}, WithDB(db))
	idx, _, err := good.Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if err := good.Save(idx, out); err != nil {
		t.Fatal(err)
	}

	t.Run("all items skipped", func(t *testing.T) {
		b := NewBuilder(fakeModel(), modeltest.Extractor{}, WithDB(db))
		if _, _, err := b.Build(context.Background(), root); !errors.Is(err, ErrEmptyIndex) {
			t.Fatalf("expected ErrEmptyIndex, got %v", err)
		}
	})

	t.Run("artifact locked", func(t *testing.T) {
		b := NewBuilder(fakeModel(), modeltest.Extractor{"a.wav": {1, 0}}, WithDB(db))
		idx, _, err := b.Build(context.Background(), root)
		if err != nil {
			t.Fatal(err)
		}
		lock := flock.New(out + ".lock")
		if ok, err := lock.TryLock(); !ok || err != nil {
			t.Fatalf("TryLock = %v, %v", ok, err)
		}
		defer lock.Unlock()
		if err := b.Save(idx, out); !errors.Is(err, ErrArtifactLocked) {
			t.Fatalf("expected ErrArtifactLocked, got %v", err)
		}
	})

	items, err := db.ListIndexItems(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Status != storage.StatusIndexed || items[1].Status != storage.StatusIndexed {
		t.Errorf("records of the saved index changed: %+v", items)
	}
}

func TestFingerprint(t *testing.T) {
	root := writeCorpus(t, "a.wav", "b.wav", "copy/a.wav")
	a, err := Fingerprint(filepath.Join(root, "a.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 {
		t.Errorf("len(fingerprint) = %d, want 64", len(a))
	}
	b, _ := Fingerprint(filepath.Join(root, "b.wav"))
	if a == b {
		t.Error("different contents gave the same fingerprint")
	}
	if _, err := Fingerprint(filepath.Join(root, "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFindAudio(t *testing.T) {
	root := writeCorpus(t, "b.wav", "a.MP3", "sub/c.wav", "d.flac", "e.txt")
	files, err := FindAudio(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	var rel []string
	for _, f := range files {
		r, _ := filepath.Rel(root, f)
		rel = append(rel, filepath.ToSlash(r))
	}
	want := []string{"a.MP3", "b.wav", "d.flac", "sub/c.wav"}
	if !slices.Equal(rel, want) {
		t.Errorf("FindAudio = %v, want %v", rel, want)
	}
}
