package store

import "time"

// PendingCommand is a command that had not resolved when the process shut
// down. On restart its terminal status is re-queried from the vendor rather
// than assumed.
type PendingCommand struct {
	CommandID       string
	Kind            string
	TargetMissionID string
	Result          string
	IssuedAt        time.Time
}

// SavePendingCommand persists an unresolved command during drain.
func (db *DB) SavePendingCommand(c *PendingCommand) error {
	_, err := db.Exec(`INSERT INTO pending_commands (command_id, kind, target_mission_id, result, issued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(command_id) DO UPDATE SET result = excluded.result`,
		c.CommandID, c.Kind, c.TargetMissionID, c.Result, timeToText(c.IssuedAt))
	return err
}

// ListPendingCommands returns commands persisted by a previous run.
func (db *DB) ListPendingCommands() ([]PendingCommand, error) {
	rows, err := db.Query(`SELECT command_id, kind, target_mission_id, result, issued_at
		FROM pending_commands ORDER BY issued_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []PendingCommand
	for rows.Next() {
		var c PendingCommand
		var at string
		if err := rows.Scan(&c.CommandID, &c.Kind, &c.TargetMissionID, &c.Result, &at); err != nil {
			return nil, err
		}
		c.IssuedAt = textToTime(at)
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

// DeletePendingCommand removes a command once its outcome has been
// re-queried and reported.
func (db *DB) DeletePendingCommand(commandID string) error {
	_, err := db.Exec(`DELETE FROM pending_commands WHERE command_id = ?`, commandID)
	return err
}
