package store

import (
	"database/sql"
	"time"
)

// PublishCursor tracks the last value acknowledged by the platform for one
// publish key, together with the connection epoch it was published in.
type PublishCursor struct {
	Key             string
	ValueHash       string
	Epoch           int64
	LastPublishedAt time.Time
}

// ReadPublishCursor returns the cursor for a key, or nil if absent.
func (db *DB) ReadPublishCursor(key string) (*PublishCursor, error) {
	c := &PublishCursor{Key: key}
	var at string
	err := db.QueryRow(`SELECT value_hash, epoch, last_published_at FROM publish_cursors WHERE key = ?`, key).
		Scan(&c.ValueHash, &c.Epoch, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.LastPublishedAt = textToTime(at)
	return c, nil
}

// RecordPublishCursor durably records a platform-acknowledged publish.
func (db *DB) RecordPublishCursor(key, hash string, epoch int64, at time.Time) error {
	_, err := db.Exec(`INSERT INTO publish_cursors (key, value_hash, epoch, last_published_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value_hash = excluded.value_hash,
		 epoch = excluded.epoch,
		 last_published_at = excluded.last_published_at`,
		key, hash, epoch, timeToText(at))
	return err
}

// MaxCursorEpoch returns the highest epoch recorded under any cursor, or
// zero when none exist. The session seeds its epoch counter above this at
// startup so a fresh process can never collide with a previous life's
// epochs and suppress the post-restart resync.
func (db *DB) MaxCursorEpoch() (int64, error) {
	var epoch int64
	err := db.QueryRow(`SELECT COALESCE(MAX(epoch), 0) FROM publish_cursors`).Scan(&epoch)
	if err != nil {
		return 0, err
	}
	return epoch, nil
}

// DeletePublishCursors removes all cursors. The publisher relies on epoch
// comparison for resync, so this is only used by retention cleanup.
func (db *DB) DeletePublishCursors() error {
	_, err := db.Exec(`DELETE FROM publish_cursors`)
	return err
}
