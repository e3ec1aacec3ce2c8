package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Mission is the durable record for one vendor mission.
type Mission struct {
	ID                    string            `json:"mission_id"`
	State                 string            `json:"state"`
	Revision              int64             `json:"revision"`
	Stale                 bool              `json:"stale"`
	StartedAt             *time.Time        `json:"started_at"`
	EndedAt               *time.Time        `json:"ended_at"`
	CompletedPercent      float64           `json:"completed_percent"`
	Attributes            map[string]string `json:"attributes"`
	LastPublishedState    string            `json:"last_published_state"`
	LastPublishedRevision int64             `json:"last_published_revision"`
	FirstSeenAt           time.Time         `json:"first_seen_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

const missionCols = `mission_id, state, revision, stale, started_at, ended_at,
	completed_percent, attributes, last_published_state, last_published_revision,
	first_seen_at, updated_at`

// LoadMission returns the mission with the given id, or nil if absent.
func (db *DB) LoadMission(id string) (*Mission, error) {
	row := db.QueryRow(`SELECT `+missionCols+` FROM missions WHERE mission_id = ?`, id)
	m, err := scanMission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// UpsertMission writes the full mission record. The write is durable before
// the caller may treat any dependent publish as complete.
func (db *DB) UpsertMission(m *Mission) error {
	attrs, err := json.Marshal(m.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if m.Attributes == nil {
		attrs = []byte("{}")
	}
	_, err = db.Exec(`INSERT INTO missions
		(mission_id, state, revision, stale, started_at, ended_at,
		 completed_percent, attributes, last_published_state, last_published_revision,
		 first_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mission_id) DO UPDATE SET
		 state = excluded.state,
		 revision = excluded.revision,
		 stale = excluded.stale,
		 started_at = excluded.started_at,
		 ended_at = excluded.ended_at,
		 completed_percent = excluded.completed_percent,
		 attributes = excluded.attributes,
		 last_published_state = excluded.last_published_state,
		 last_published_revision = excluded.last_published_revision,
		 updated_at = excluded.updated_at`,
		m.ID, m.State, m.Revision, m.Stale,
		timePtrToText(m.StartedAt), timePtrToText(m.EndedAt),
		m.CompletedPercent, string(attrs),
		m.LastPublishedState, m.LastPublishedRevision,
		timeToText(m.FirstSeenAt), timeToText(m.UpdatedAt))
	return err
}

// ListOpenMissions returns all non-terminal missions, used once at startup
// to rebuild the in-memory mission index.
func (db *DB) ListOpenMissions(terminalStates []string) ([]Mission, error) {
	query := `SELECT ` + missionCols + ` FROM missions`
	args := make([]any, 0, len(terminalStates))
	if len(terminalStates) > 0 {
		query += ` WHERE state NOT IN (?` + repeat(",?", len(terminalStates)-1) + `)`
		for _, s := range terminalStates {
			args = append(args, s)
		}
	}
	query += ` ORDER BY first_seen_at`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missions []Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, *m)
	}
	return missions, rows.Err()
}

// ListMissions returns every mission record, newest first.
func (db *DB) ListMissions() ([]Mission, error) {
	rows, err := db.Query(`SELECT ` + missionCols + ` FROM missions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missions []Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, *m)
	}
	return missions, rows.Err()
}

// PruneTerminalMissions deletes terminal missions last updated before the
// cutoff. Returns the number of rows removed.
func (db *DB) PruneTerminalMissions(terminalStates []string, cutoff time.Time) (int64, error) {
	if len(terminalStates) == 0 {
		return 0, nil
	}
	query := `DELETE FROM missions WHERE updated_at < ? AND state IN (?` +
		repeat(",?", len(terminalStates)-1) + `)`
	args := []any{timeToText(cutoff)}
	for _, s := range terminalStates {
		args = append(args, s)
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (*Mission, error) {
	m := &Mission{}
	var started, ended sql.NullString
	var firstSeen, updated, attrs string
	if err := row.Scan(&m.ID, &m.State, &m.Revision, &m.Stale, &started, &ended,
		&m.CompletedPercent, &attrs, &m.LastPublishedState, &m.LastPublishedRevision,
		&firstSeen, &updated); err != nil {
		return nil, err
	}
	m.StartedAt = textToTimePtr(started)
	m.EndedAt = textToTimePtr(ended)
	m.FirstSeenAt = textToTime(firstSeen)
	m.UpdatedAt = textToTime(updated)
	if err := json.Unmarshal([]byte(attrs), &m.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes for %s: %w", m.ID, err)
	}
	return m, nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
