// Package storage persists telemetry and index bookkeeping in SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrInvalidRating is returned for ratings outside 1..5.
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		-- Last successful build per artifact, for staleness detection.
		-- exclude is a JSON array of doublestar patterns.
		CREATE TABLE IF NOT EXISTS index_builds (
			index_path TEXT PRIMARY KEY,
			corpus_root TEXT NOT NULL,
			exclude TEXT NOT NULL,
			model_name TEXT NOT NULL,
			built_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS build_items (
			index_path TEXT NOT NULL,
			path TEXT NOT NULL,
			song_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			size INTEGER NOT NULL,
			status TEXT NOT NULL,
			PRIMARY KEY (index_path, path)
		);

		CREATE TABLE IF NOT EXISTS predictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label TEXT NOT NULL,
			audio_path TEXT NOT NULL,
			confidence REAL NOT NULL,
			recommendations INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_predictions_label ON predictions(label);

		CREATE TABLE IF NOT EXISTS plays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			song_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_plays_song ON plays(song_id);

		-- liked: 1 like, -1 dislike, 0 none. rating: 0 when not given.
		CREATE TABLE IF NOT EXISTS feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			song_id TEXT NOT NULL,
			label TEXT NOT NULL,
			liked INTEGER NOT NULL,
			rating INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feedback_song ON feedback(song_id);
	`

	_, err := db.Exec(schema)
	return err
}
