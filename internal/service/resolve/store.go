package resolve

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrMappingNotFound = errors.New("song mapping not found")

// Mapping links an external track id to a playable audio id.
type Mapping struct {
	TrackID      string
	PlayableID   string
	Name         string
	Artist       string
	LastAccessed time.Time
}

// OpenDB opens the sqlite database backing the resolution cache.
// Path ":memory:" gives an in-memory database for tests.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Store persists song mappings with a recency timestamp. Expiry is by
// time since last access, not since creation.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (*Store, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS song_mappings (
			track_id TEXT PRIMARY KEY,
			playable_id TEXT NOT NULL UNIQUE,
			name TEXT,
			artist TEXT,
			last_accessed TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_song_mappings_last_accessed
			ON song_mappings (last_accessed);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create song_mappings schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Lookup returns the playable id for a track and refreshes its access time.
func (s *Store) Lookup(trackID string) (string, error) {
	var playableID string
	query := `SELECT playable_id FROM song_mappings WHERE track_id = ?`

	err := s.db.QueryRow(query, trackID).Scan(&playableID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query song mapping: %w", err)
	}

	touch := `UPDATE song_mappings SET last_accessed = ? WHERE track_id = ?`
	if _, err := s.db.Exec(touch, time.Now().UTC(), trackID); err != nil {
		return "", fmt.Errorf("failed to refresh song mapping: %w", err)
	}

	return playableID, nil
}

// Save inserts or replaces a mapping. A playable id already claimed by a
// stale row is released first so the unique index holds.
func (s *Store) Save(m Mapping) error {
	if m.LastAccessed.IsZero() {
		m.LastAccessed = time.Now().UTC()
	}

	query := `
		INSERT INTO song_mappings (track_id, playable_id, name, artist, last_accessed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			playable_id = excluded.playable_id,
			name = excluded.name,
			artist = excluded.artist,
			last_accessed = excluded.last_accessed
	`

	if _, err := s.db.Exec(`DELETE FROM song_mappings WHERE playable_id = ? AND track_id != ?`, m.PlayableID, m.TrackID); err != nil {
		return fmt.Errorf("failed to release playable id: %w", err)
	}

	if _, err := s.db.Exec(query, m.TrackID, m.PlayableID, m.Name, m.Artist, m.LastAccessed); err != nil {
		return fmt.Errorf("failed to save song mapping: %w", err)
	}

	return nil
}

// PruneIdle deletes mappings not accessed within ttl and reports how many
// rows were removed.
func (s *Store) PruneIdle(ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)

	res, err := s.db.Exec(`DELETE FROM song_mappings WHERE last_accessed < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune song mappings: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
