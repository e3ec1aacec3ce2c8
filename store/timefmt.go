package store

import (
	"database/sql"
	"time"
)

// Timestamps are stored as RFC 3339 UTC text so rows stay readable in the
// sqlite shell and comparable with datetime().
const timeLayout = time.RFC3339Nano

func timeToText(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func timePtrToText(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func textToTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows created by SQLite defaults use datetime('now') format.
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func textToTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := textToTime(s.String)
	return &t
}
