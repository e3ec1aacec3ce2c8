package store

import "fmt"

// migrations are applied in order at startup. Each entry bumps the
// schema_version row, so older databases are forward-migrated and
// up-to-date databases are a no-op.
var migrations = []string{
	// v1: initial layout
	`
CREATE TABLE IF NOT EXISTS missions (
    mission_id              TEXT PRIMARY KEY,
    state                   TEXT NOT NULL,
    revision                INTEGER NOT NULL DEFAULT 0,
    stale                   INTEGER NOT NULL DEFAULT 0,
    started_at              TEXT,
    ended_at                TEXT,
    completed_percent       REAL NOT NULL DEFAULT 0,
    attributes              TEXT NOT NULL DEFAULT '{}',
    last_published_state    TEXT NOT NULL DEFAULT '',
    last_published_revision INTEGER NOT NULL DEFAULT -1,
    first_seen_at           TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at              TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_missions_state ON missions(state);

CREATE TABLE IF NOT EXISTS publish_cursors (
    key               TEXT PRIMARY KEY,
    value_hash        TEXT NOT NULL,
    epoch             INTEGER NOT NULL DEFAULT 0,
    last_published_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pending_commands (
    command_id        TEXT PRIMARY KEY,
    kind              TEXT NOT NULL,
    target_mission_id TEXT NOT NULL DEFAULT '',
    result            TEXT NOT NULL,
    issued_at         TEXT NOT NULL DEFAULT (datetime('now'))
);
`,
}

func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	row := db.QueryRow(`SELECT version FROM schema_version`)
	if err := row.Scan(&version); err != nil {
		// Empty table: start at version 0
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return err
		}
		version = 0
	}

	for v := version; v < len(migrations); v++ {
		if _, err := db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, v+1); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion reports the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var v int
	err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&v)
	return v, err
}
