package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/schemaforge/erd-engine/pkg/models"
)

// sqliteStore keeps cache entries in a local sqlite database, one row
// per table-pair key.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a sqlite-backed store at
// the given path.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS relationship_cache (
	key       TEXT PRIMARY KEY,
	payload   TEXT NOT NULL,
	cached_at TIMESTAMP NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

var _ Store = (*sqliteStore)(nil)

func (s *sqliteStore) Get(key string) (*Entry, bool, error) {
	var payload string
	var cachedAt time.Time
	err := s.db.QueryRow(
		`SELECT payload, cached_at FROM relationship_cache WHERE key = ?`, key,
	).Scan(&payload, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache entry: %w", err)
	}

	var rel models.Relationship
	if err := json.Unmarshal([]byte(payload), &rel); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &Entry{Relationship: &rel, CachedAt: cachedAt}, true, nil
}

func (s *sqliteStore) Put(key string, entry *Entry) error {
	payload, err := json.Marshal(entry.Relationship)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO relationship_cache (key, payload, cached_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at`,
		key, string(payload), entry.CachedAt)
	return err
}

func (s *sqliteStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM relationship_cache WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM relationship_cache ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }
