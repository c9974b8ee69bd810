package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Index item statuses.
const (
	StatusIndexed = "indexed"
	StatusSkipped = "skipped"
)

// IndexBuild records how the artifact at IndexPath was built.
type IndexBuild struct {
	IndexPath  string   `json:"index_path"`
	CorpusRoot string   `json:"corpus_root"`
	Exclude    []string `json:"exclude,omitempty"` // doublestar patterns applied to the corpus
	ModelName  string   `json:"model_name"`
	BuiltAt    int64    `json:"built_at"` // Unix timestamp
}

// IndexItem records one corpus file seen by an index build.
type IndexItem struct {
	Path        string `json:"path"`
	SongID      string `json:"song_id"`
	Fingerprint string `json:"fingerprint"` // BLAKE2b-256 of the file contents
	Size        int64  `json:"size"`
	Status      string `json:"status"`
}

// ReplaceIndexBuild stores build and its items as the record for
// build.IndexPath, replacing any earlier record for that path. Records of
// other index paths are untouched.
func (d *DB) ReplaceIndexBuild(build IndexBuild, items []IndexItem) error {
	exclude, err := json.Marshal(build.Exclude)
	if err != nil {
		return fmt.Errorf("marshaling exclude patterns: %w", err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM build_items WHERE index_path = ?", build.IndexPath); err != nil {
		return fmt.Errorf("clearing build items: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO index_builds (index_path, corpus_root, exclude, model_name, built_at)
		VALUES (?, ?, ?, ?, ?)
	`, build.IndexPath, build.CorpusRoot, string(exclude), build.ModelName, build.BuiltAt); err != nil {
		return fmt.Errorf("saving build: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO build_items (index_path, path, song_id, fingerprint, size, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.Exec(build.IndexPath, it.Path, it.SongID, it.Fingerprint, it.Size, it.Status); err != nil {
			return fmt.Errorf("saving build item %s: %w", it.Path, err)
		}
	}
	return tx.Commit()
}

// GetIndexBuild returns the build record for indexPath, or nil if the
// artifact was never built against this database.
func (d *DB) GetIndexBuild(indexPath string) (*IndexBuild, error) {
	var b IndexBuild
	var exclude string
	err := d.db.QueryRow(`
		SELECT index_path, corpus_root, exclude, model_name, built_at
		FROM index_builds
		WHERE index_path = ?
	`, indexPath).Scan(&b.IndexPath, &b.CorpusRoot, &exclude, &b.ModelName, &b.BuiltAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(exclude), &b.Exclude); err != nil {
		return nil, fmt.Errorf("parsing exclude patterns: %w", err)
	}
	return &b, nil
}

// ListIndexItems returns the corpus files recorded for indexPath ordered
// by path.
func (d *DB) ListIndexItems(indexPath string) ([]IndexItem, error) {
	rows, err := d.db.Query(`
		SELECT path, song_id, fingerprint, size, status
		FROM build_items
		WHERE index_path = ?
		ORDER BY path
	`, indexPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []IndexItem
	for rows.Next() {
		var it IndexItem
		if err := rows.Scan(&it.Path, &it.SongID, &it.Fingerprint, &it.Size, &it.Status); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CountIndexItems returns the number of files recorded for indexPath with
// the given status, or all of them when status is empty.
func (d *DB) CountIndexItems(indexPath, status string) (int, error) {
	var count int
	var err error
	if status == "" {
		err = d.db.QueryRow("SELECT COUNT(*) FROM build_items WHERE index_path = ?", indexPath).Scan(&count)
	} else {
		err = d.db.QueryRow("SELECT COUNT(*) FROM build_items WHERE index_path = ? AND status = ?", indexPath, status).Scan(&count)
	}
	return count, err
}
