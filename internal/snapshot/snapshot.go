// Package snapshot is the optional, operator-triggered backup path for
// the Context Manager's long-term memory. The kernel itself persists
// nothing (spec.md §6); this package exists only for
// `cortexctl snapshot export/import` to serialize
// internal/contextmgr.Manager.ExportLTM's entry slice to a SQLite file
// and load it back later.
//
// Grounded on the teacher's internal/persistence.Store: sqlite3 driver
// import, busy-timeout DSN, WAL journal mode, and a versioned
// schema_migrations ledger — generalized from that package's
// many-table task/session schema down to the single entries table this
// domain needs.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cortexos/kernel/internal/contextmgr"
)

const schemaVersion = 1

// Store wraps a SQLite file holding one snapshot of LTM entries.
type Store struct {
	db *sql.DB
}

// Open creates or opens the snapshot database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("snapshot: set journal mode: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("snapshot: create schema_migrations: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ltm_entries (
			id               TEXT PRIMARY KEY,
			scope            TEXT NOT NULL,
			key              TEXT NOT NULL,
			value            TEXT NOT NULL,
			tags_json        TEXT NOT NULL DEFAULT '[]',
			keywords_json    TEXT NOT NULL DEFAULT '[]',
			importance       REAL NOT NULL DEFAULT 0,
			q_value          REAL NOT NULL DEFAULT 0,
			access_count     INTEGER NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL,
			last_accessed_at DATETIME NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("snapshot: create ltm_entries: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO schema_migrations (version) VALUES (?);
	`, schemaVersion); err != nil {
		return fmt.Errorf("snapshot: record schema version: %w", err)
	}
	return nil
}

// Export writes entries to the snapshot file, replacing any prior
// contents. Only LTM entries are meaningful here; callers should pass
// Manager.ExportLTM()'s result directly.
func (s *Store) Export(ctx context.Context, entries []contextmgr.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin export tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ltm_entries;`); err != nil {
		return fmt.Errorf("snapshot: clear ltm_entries: %w", err)
	}

	for _, e := range entries {
		tagsJSON, err := json.Marshal(e.Tags)
		if err != nil {
			return fmt.Errorf("snapshot: marshal tags for %q: %w", e.ID, err)
		}
		keywordsJSON, err := json.Marshal(e.Keywords)
		if err != nil {
			return fmt.Errorf("snapshot: marshal keywords for %q: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ltm_entries (
				id, scope, key, value, tags_json, keywords_json,
				importance, q_value, access_count, created_at, last_accessed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, e.ID, e.Scope, e.Key, e.Value, string(tagsJSON), string(keywordsJSON),
			e.Importance, e.QValue, e.AccessCount, e.CreatedAt, e.LastAccessedAt); err != nil {
			return fmt.Errorf("snapshot: insert entry %q: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit export tx: %w", err)
	}
	return nil
}

// Import reads every entry back out of the snapshot file, in the shape
// Manager.ImportLTM expects.
func (s *Store) Import(ctx context.Context) ([]contextmgr.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, key, value, tags_json, keywords_json,
			importance, q_value, access_count, created_at, last_accessed_at
		FROM ltm_entries
		ORDER BY id;
	`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: query ltm_entries: %w", err)
	}
	defer rows.Close()

	var out []contextmgr.Entry
	for rows.Next() {
		var e contextmgr.Entry
		var tagsJSON, keywordsJSON string
		var createdAt, lastAccessedAt time.Time
		if err := rows.Scan(
			&e.ID, &e.Scope, &e.Key, &e.Value, &tagsJSON, &keywordsJSON,
			&e.Importance, &e.QValue, &e.AccessCount, &createdAt, &lastAccessedAt,
		); err != nil {
			return nil, fmt.Errorf("snapshot: scan ltm_entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, fmt.Errorf("snapshot: unmarshal tags for %q: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &e.Keywords); err != nil {
			return nil, fmt.Errorf("snapshot: unmarshal keywords for %q: %w", e.ID, err)
		}
		e.Tier = contextmgr.TierLTM
		e.CreatedAt = createdAt
		e.LastAccessedAt = lastAccessedAt
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: ltm_entry rows: %w", err)
	}
	return out, nil
}
