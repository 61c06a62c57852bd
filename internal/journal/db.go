// Package journal persists session events to SQLite so past builds can be
// listed with `dyncomp history`.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// schemaSQL is applied on every open. Statements are idempotent.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS builds (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	created     INTEGER NOT NULL DEFAULT 0,
	parameters  TEXT,
	failed_index INTEGER,
	failed_id   TEXT,
	error       TEXT,
	finished_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	instance_id TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_instance ON events(instance_id);
CREATE INDEX IF NOT EXISTS idx_builds_finished ON builds(finished_at);
`

// NewDB opens the journal database at path, creating the parent directory
// and the tables when missing.
func NewDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the journal tables on db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply journal schema: %w", err)
	}
	return nil
}
