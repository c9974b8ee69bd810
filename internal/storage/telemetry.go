package storage

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TopN is the length of the top plays and top likes lists.
const TopN = 10

// Prediction is one recorded inference.
type Prediction struct {
	Label           string
	AudioPath       string
	Confidence      float32
	Recommendations int
}

// ItemVote is a like or dislike for one recommended song.
type ItemVote struct {
	SongID string
	Liked  bool
}

// Feedback is one feedback submission. Liked is the overall vote and only
// counts when Items holds no per-song votes. Rating 0 means not rated.
type Feedback struct {
	Label  string
	Liked  *bool
	Rating int
	Items  []ItemVote
}

// Count is a name with a tally.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Snapshot summarizes recorded telemetry.
type Snapshot struct {
	TotalPredictions int     `json:"total_predictions"`
	ByLabel          []Count `json:"by_label"`
	Likes            int     `json:"likes"`
	Dislikes         int     `json:"dislikes"`
	AverageRating    float64 `json:"average_rating"`
	Ratings          int     `json:"ratings"`
	TopPlays         []Count `json:"top_plays"`
	TopLikes         []Count `json:"top_likes"`
}

// RecordPrediction stores one inference result.
func (d *DB) RecordPrediction(p Prediction) error {
	_, err := d.db.Exec(`
		INSERT INTO predictions (label, audio_path, confidence, recommendations, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, strings.TrimSpace(p.Label), p.AudioPath, p.Confidence, p.Recommendations, time.Now().Unix())
	return err
}

// RecordPlay counts one play of songID. Blank ids are ignored.
func (d *DB) RecordPlay(songID string) error {
	songID = strings.TrimSpace(songID)
	if songID == "" {
		return nil
	}
	_, err := d.db.Exec("INSERT INTO plays (song_id, created_at) VALUES (?, ?)", songID, time.Now().Unix())
	return err
}

// RecordFeedback stores a feedback submission under a new session id and
// returns that id.
func (d *DB) RecordFeedback(f Feedback) (string, error) {
	if f.Rating < 0 || f.Rating > 5 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidRating, f.Rating)
	}

	sessionID := uuid.NewString()
	now := time.Now().Unix()

	tx, err := d.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO feedback (session_id, song_id, label, liked, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("preparing feedback insert: %w", err)
	}
	defer stmt.Close()

	itemVotes := 0
	for _, it := range f.Items {
		id := strings.TrimSpace(it.SongID)
		if id == "" {
			continue
		}
		if _, err := stmt.Exec(sessionID, id, f.Label, vote(it.Liked), 0, now); err != nil {
			return "", fmt.Errorf("saving vote for %s: %w", id, err)
		}
		itemVotes++
	}

	overall := 0
	if itemVotes == 0 && f.Liked != nil {
		overall = vote(*f.Liked)
	}
	if overall != 0 || f.Rating > 0 {
		if _, err := stmt.Exec(sessionID, "", f.Label, overall, f.Rating, now); err != nil {
			return "", fmt.Errorf("saving feedback: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing feedback: %w", err)
	}
	return sessionID, nil
}

func vote(liked bool) int {
	if liked {
		return 1
	}
	return -1
}

// Snapshot returns aggregate telemetry.
func (d *DB) Snapshot() (*Snapshot, error) {
	s := &Snapshot{}

	if err := d.db.QueryRow("SELECT COUNT(*) FROM predictions").Scan(&s.TotalPredictions); err != nil {
		return nil, fmt.Errorf("counting predictions: %w", err)
	}

	var err error
	s.ByLabel, err = d.counts(`
		SELECT label, COUNT(*) AS n FROM predictions
		WHERE label != ''
		GROUP BY label COLLATE NOCASE
		ORDER BY n DESC, label`)
	if err != nil {
		return nil, fmt.Errorf("counting labels: %w", err)
	}

	err = d.db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN liked = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN liked = -1 THEN 1 ELSE 0 END), 0)
		FROM feedback`).Scan(&s.Likes, &s.Dislikes)
	if err != nil {
		return nil, fmt.Errorf("counting votes: %w", err)
	}

	var avg sql.NullFloat64
	err = d.db.QueryRow("SELECT COUNT(*), AVG(rating) FROM feedback WHERE rating > 0").Scan(&s.Ratings, &avg)
	if err != nil {
		return nil, fmt.Errorf("averaging ratings: %w", err)
	}
	if avg.Valid {
		s.AverageRating = math.Round(avg.Float64*100) / 100
	}

	s.TopPlays, err = d.counts(`
		SELECT song_id, COUNT(*) AS n FROM plays
		GROUP BY song_id COLLATE NOCASE
		ORDER BY n DESC, song_id
		LIMIT ?`, TopN)
	if err != nil {
		return nil, fmt.Errorf("counting plays: %w", err)
	}

	s.TopLikes, err = d.counts(`
		SELECT song_id, COUNT(*) AS n FROM feedback
		WHERE liked = 1 AND song_id != ''
		GROUP BY song_id COLLATE NOCASE
		ORDER BY n DESC, song_id
		LIMIT ?`, TopN)
	if err != nil {
		return nil, fmt.Errorf("counting likes: %w", err)
	}

	return s, nil
}

func (d *DB) counts(query string, args ...any) ([]Count, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
