package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matsen/muse/internal/config"
	"github.com/matsen/muse/internal/index"
	"github.com/matsen/muse/internal/storage"
)

func TestResolveSongPath(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rock.00030.wav", "jazz.00002.MP3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		songID  string
		want    string
		wantErr bool
	}{
		{songID: "rock.00030", want: "rock.00030.wav"},
		{songID: " rock.00030 ", want: "rock.00030.wav"},
		{songID: "jazz.00002", want: "jazz.00002.MP3"},
		{songID: "notes", wantErr: true},
		{songID: "missing", wantErr: true},
		{songID: "../rock.00030", wantErr: true},
		{songID: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.songID, func(t *testing.T) {
			got, err := resolveSongPath(dir, tt.songID)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != filepath.Join(dir, tt.want) {
				t.Errorf("resolveSongPath() = %q, want %q", got, filepath.Join(dir, tt.want))
			}
		})
	}

	if _, err := resolveSongPath(dir, "missing"); !errors.Is(err, errSongFileNotFound) {
		t.Errorf("expected errSongFileNotFound, got %v", err)
	}
}

func TestCompareCorpus(t *testing.T) {
	items := []storage.IndexItem{
		{Path: "/m/a.wav", Fingerprint: "aa"},
		{Path: "/m/b.wav", Fingerprint: "bb"},
		{Path: "/m/gone.wav", Fingerprint: "gg"},
	}
	current := map[string]string{
		"/m/a.wav":   "aa",
		"/m/b.wav":   "b2",
		"/m/new.wav": "nn",
	}
	fingerprint := func(path string) (string, error) {
		fp, ok := current[path]
		if !ok {
			return "", os.ErrNotExist
		}
		return fp, nil
	}

	d := compareCorpus(items, []string{"/m/a.wav", "/m/b.wav", "/m/new.wav"}, fingerprint)
	if len(d.added) != 1 || d.added[0] != "/m/new.wav" {
		t.Errorf("added = %v", d.added)
	}
	if len(d.removed) != 1 || d.removed[0] != "/m/gone.wav" {
		t.Errorf("removed = %v", d.removed)
	}
	if len(d.changed) != 1 || d.changed[0] != "/m/b.wav" {
		t.Errorf("changed = %v", d.changed)
	}
	if !d.stale() {
		t.Error("expected stale")
	}

	clean := compareCorpus(items[:1], []string{"/m/a.wav"}, fingerprint)
	if clean.stale() {
		t.Errorf("expected healthy, got %+v", clean)
	}
}

func TestCheckCorpus_Exclusions(t *testing.T) {
	old := cfg
	cfg = &config.GlobalConfig{}
	t.Cleanup(func() { cfg = old })

	root := t.TempDir()
	for _, name := range []string{"a.wav", "drafts/b.wav", "c.wav"} {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	var items []storage.IndexItem
	for _, name := range []string{"a.wav", "c.wav"} {
		path := filepath.Join(root, name)
		fp, err := index.Fingerprint(path)
		if err != nil {
			t.Fatal(err)
		}
		items = append(items, storage.IndexItem{Path: path, Fingerprint: fp, Status: storage.StatusIndexed})
	}
	build := &storage.IndexBuild{CorpusRoot: root, Exclude: []string{"drafts/**"}}

	tests := []struct {
		name      string
		build     *storage.IndexBuild
		dir       string
		extra     []string
		files     int
		added     int
		removed   int
		wantStale bool
	}{
		{"recorded exclusions", build, "", nil, 2, 0, 0, false},
		{"explicit dir", build, root, nil, 2, 0, 0, false},
		{"extra exclusion", build, "", []string{"c.wav"}, 1, 0, 1, true},
		{"no build record", nil, root, nil, 3, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, d, err := checkCorpus(tt.build, items, tt.dir, tt.extra)
			if err != nil {
				t.Fatalf("checkCorpus failed: %v", err)
			}
			if len(files) != tt.files || len(d.added) != tt.added || len(d.removed) != tt.removed {
				t.Errorf("files=%d added=%v removed=%v", len(files), d.added, d.removed)
			}
			if d.stale() != tt.wantStale {
				t.Errorf("stale() = %v, want %v", d.stale(), tt.wantStale)
			}
		})
	}

	if _, _, err := checkCorpus(nil, nil, "", nil); !errors.Is(err, errNoCorpusDir) {
		t.Errorf("expected errNoCorpusDir, got %v", err)
	}
}

func TestFeedbackFromFlags(t *testing.T) {
	f := feedbackFromFlags("rock", 4, true, false, []string{"rock.1"}, []string{"rock.2"})
	if f.Label != "rock" || f.Rating != 4 || f.Liked == nil || !*f.Liked {
		t.Errorf("unexpected feedback: %+v", f)
	}
	if len(f.Items) != 2 || !f.Items[0].Liked || f.Items[1].Liked || f.Items[1].SongID != "rock.2" {
		t.Errorf("unexpected items: %+v", f.Items)
	}

	none := feedbackFromFlags("", 0, false, false, nil, nil)
	if none.Liked != nil || len(none.Items) != 0 {
		t.Errorf("expected empty feedback, got %+v", none)
	}
	if d := feedbackFromFlags("", 0, false, true, nil, nil); d.Liked == nil || *d.Liked {
		t.Errorf("expected dislike, got %+v", d)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Song", "Count"},
		[][]string{{"rock.00030", "12"}, {"jazz.00002"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	for _, want := range []string{"Song", "Count", "rock.00030", "12", "jazz.00002"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty output without headers")
	}
}

func TestFormatting(t *testing.T) {
	if got := truncateString("Straße der Lieder", 8); got != "Straß..." {
		t.Errorf("truncateString() = %q", got)
	}
	if got := truncateString("short", 8); got != "short" {
		t.Errorf("truncateString() = %q", got)
	}
	if got := formatBytes(1536); got != "1.5 KB" {
		t.Errorf("formatBytes() = %q", got)
	}
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty() = %q", got)
	}
}
