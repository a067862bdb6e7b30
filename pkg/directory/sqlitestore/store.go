// Package sqlitestore provides a SQLite-backed directory store so a user's
// conversation list survives process restarts.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mulyachat/mulyachat/pkg/directory"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
  owner_id  TEXT NOT NULL,
  peer_id   TEXT NOT NULL,
  peer_name TEXT NOT NULL,
  position  INTEGER NOT NULL,
  PRIMARY KEY (owner_id, peer_id)
);`

// Store persists directory entries in SQLite, keyed by owner id.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the directory database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("directory path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory dir: %w", err)
	}

	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load returns the owner's conversation list in insertion order.
func (s *Store) Load(ownerID string) ([]directory.Entry, error) {
	rows, err := s.sqlDB.Query(
		`SELECT peer_id, peer_name FROM conversations
		 WHERE owner_id = ? ORDER BY position ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var entries []directory.Entry
	for rows.Next() {
		var e directory.Entry
		if err := rows.Scan(&e.PeerID, &e.PeerName); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Save replaces the owner's conversation list atomically.
func (s *Store) Save(ownerID string, entries []directory.Entry) error {
	tx, err := s.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	for i, e := range entries {
		_, err := tx.Exec(
			`INSERT INTO conversations (owner_id, peer_id, peer_name, position)
			 VALUES (?, ?, ?, ?)`, ownerID, e.PeerID, e.PeerName, i)
		if err != nil {
			return fmt.Errorf("insert conversation %s: %w", e.PeerID, err)
		}
	}
	return tx.Commit()
}
