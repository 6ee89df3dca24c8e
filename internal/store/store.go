// Package store provides SQLite persistence for PingPong: an archive of the
// fixed timelines and the polling watermarks.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/abelbrown/pingpong/internal/model"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // Protects all database operations
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		created_at DATETIME NOT NULL,
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		kind INTEGER NOT NULL,
		in_reply_to INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS timeline_items (
		timeline TEXT NOT NULL,
		item_id INTEGER NOT NULL REFERENCES items(id),
		PRIMARY KEY (timeline, item_id)
	);

	CREATE TABLE IF NOT EXISTS watermarks (
		feed TEXT PRIMARY KEY,
		since_id INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_timeline_items ON timeline_items(timeline, item_id DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveItems archives items under timeline, returning how many were new to
// that timeline. Items already archived are ignored.
// Thread-safe: acquires write lock.
func (s *Store) SaveItems(timeline string, items []model.Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	itemStmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO items (id, created_at, author, body, kind, in_reply_to)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer itemStmt.Close()

	linkStmt, err := tx.Prepare(`INSERT OR IGNORE INTO timeline_items (timeline, item_id) VALUES (?, ?)`)
	if err != nil {
		return 0, err
	}
	defer linkStmt.Close()

	newCount := 0
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return 0, fmt.Errorf("save item: %w", err)
		}
		if _, err := itemStmt.Exec(
			int64(item.ID),
			item.CreatedAt.UTC(),
			item.Author,
			item.Body,
			int(item.Kind),
			int64(item.InReplyTo),
		); err != nil {
			return 0, err
		}

		result, err := linkStmt.Exec(timeline, int64(item.ID))
		if err != nil {
			return 0, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected > 0 {
			newCount++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newCount, nil
}

// RecentItems returns up to limit archived items of timeline, newest first.
// Thread-safe: acquires read lock.
func (s *Store) RecentItems(timeline string, limit int) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT i.id, i.created_at, i.author, i.body, i.kind, i.in_reply_to
		FROM timeline_items t
		JOIN items i ON i.id = t.item_id
		WHERE t.timeline = ?
		ORDER BY i.id DESC
		LIMIT ?
	`, timeline, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var (
			id, replyTo int64
			kind        int
			item        model.Item
		)
		if err := rows.Scan(&id, &item.CreatedAt, &item.Author, &item.Body, &kind, &replyTo); err != nil {
			return nil, err
		}
		item.ID = model.ID(id)
		item.Kind = model.Kind(kind)
		item.InReplyTo = model.ID(replyTo)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ItemCount returns the number of archived items across all timelines.
func (s *Store) ItemCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n)
	return n, err
}

// Watermark returns the saved since id for feed, zero if none.
// Thread-safe: acquires read lock.
func (s *Store) Watermark(feed string) (model.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err := s.db.QueryRow("SELECT since_id FROM watermarks WHERE feed = ?", feed).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark %s: %w", feed, err)
	}
	return model.ID(id), nil
}

// SetWatermark records id for feed. A stored watermark is never lowered.
// Thread-safe: acquires write lock.
func (s *Store) SetWatermark(feed string, id model.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO watermarks (feed, since_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(feed) DO UPDATE SET
			since_id = MAX(since_id, excluded.since_id),
			updated_at = excluded.updated_at
	`, feed, int64(id), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", feed, err)
	}
	return nil
}

// Prune keeps the newest keep items of timeline and drops the rest of its
// links. Returns how many links were removed.
func (s *Store) Prune(timeline string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		DELETE FROM timeline_items
		WHERE timeline = ? AND item_id NOT IN (
			SELECT item_id FROM timeline_items WHERE timeline = ?
			ORDER BY item_id DESC LIMIT ?
		)
	`, timeline, timeline, keep)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", timeline, err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}
