// Package sqlite backs the stores with a single SQLite database file,
// created and migrated on open.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/modgate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id            TEXT PRIMARY KEY,
	enabled             INTEGER NOT NULL DEFAULT 1,
	action_toggles      TEXT NOT NULL DEFAULT '{}',
	rules               TEXT NOT NULL DEFAULT '',
	review_channel_ids  TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS reversals (
	guild_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	due_at    INTEGER NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (guild_id, user_id)
);

CREATE TABLE IF NOT EXISTS action_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	action    TEXT NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	duration  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_action_log_member
	ON action_log (guild_id, user_id, timestamp DESC);
`

// Open creates the database file if needed, applies the schema, and returns
// the full store bundle.
func Open(path string) (*store.Stores, *sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent pipeline writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply schema: %w", err)
	}

	return &store.Stores{
		Guilds:    NewGuildStore(db),
		Reversals: NewReversalStore(db),
		Actions:   NewActionLogStore(db),
	}, db, nil
}
