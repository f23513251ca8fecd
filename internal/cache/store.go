// Package cache deduplicates and persists track analysis so the expensive
// analyzers stay off the playback path.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/seguefm/segue/internal/analysis"
)

// DefaultRetention is how long persisted results are kept before the
// startup prune removes them.
const DefaultRetention = 30 * 24 * time.Hour

// Store is the durable analysis cache, backed by SQLite. Rows are keyed
// either by locator or by content hash; the two-level lookup lives in the
// Orchestrator. Writes are serialized (one in flight), reads are not.
type Store struct {
	db      *sql.DB
	writeMu chan struct{} // capacity 1: the single write-in-flight slot
}

type entry struct {
	result       analysis.Result
	fileSize     int64
	lastModified int64
}

// OpenStore opens (or creates) the cache database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening cache database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, writeMu: make(chan struct{}, 1)}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func createTables(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS analysis_cache (
        key TEXT PRIMARY KEY,
        result TEXT NOT NULL,
        file_size INTEGER NOT NULL,
        last_modified INTEGER NOT NULL,
        created_at INTEGER NOT NULL
    );
    `
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("error creating cache table: %w", err)
	}
	return nil
}

// get returns the entry for key, if any.
func (s *Store) get(key string) (entry, bool, error) {
	row := s.db.QueryRow(
		"SELECT result, file_size, last_modified FROM analysis_cache WHERE key = ?", key)

	var resultJSON string
	var e entry
	err := row.Scan(&resultJSON, &e.fileSize, &e.lastModified)
	if err == sql.ErrNoRows {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("error reading cache row: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &e.result); err != nil {
		return entry{}, false, fmt.Errorf("error decoding cached result: %w", err)
	}
	return e, true, nil
}

// put upserts the result under every key, holding the single write slot for
// the duration of the transaction.
func (s *Store) put(keys []string, res analysis.Result, fileSize, lastModified int64) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("error encoding result: %w", err)
	}

	s.writeMu <- struct{}{}
	defer func() { <-s.writeMu }()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO analysis_cache (key, result, file_size, last_modified, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, key := range keys {
		if _, err := stmt.Exec(key, string(data), fileSize, lastModified, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("error writing cache row: %w", err)
		}
	}
	return tx.Commit()
}

// prune bulk-deletes rows older than the retention window. Returns the
// number of rows removed.
func (s *Store) prune(retention time.Duration) (int64, error) {
	s.writeMu <- struct{}{}
	defer func() { <-s.writeMu }()

	cutoff := time.Now().Add(-retention).Unix()
	result, err := s.db.Exec("DELETE FROM analysis_cache WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("error pruning cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %w", err)
	}
	return n, nil
}

// clear removes every row.
func (s *Store) clear() error {
	s.writeMu <- struct{}{}
	defer func() { <-s.writeMu }()

	if _, err := s.db.Exec("DELETE FROM analysis_cache"); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}
	return nil
}
