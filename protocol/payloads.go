package protocol

// BridgeRegister is sent once when the bridge comes online.
type BridgeRegister struct {
	RobotID      string `json:"robot_id"`
	Hostname     string `json:"hostname"`
	Version      string `json:"version"`
	VendorFamily string `json:"vendor_family"`
}

// BridgeHeartbeat is sent periodically so the platform can mark the robot online.
type BridgeHeartbeat struct {
	RobotID          string `json:"robot_id"`
	Uptime           int64  `json:"uptime_s"`
	ConnectionStatus string `json:"connection_status"`
}

// TelemetryReport carries one telemetry snapshot channel.
// Values are vendor key/value pairs, opaque to the platform schema.
type TelemetryReport struct {
	RobotID    string         `json:"robot_id"`
	Key        string         `json:"key"`
	Values     map[string]any `json:"values"`
	CapturedAt int64          `json:"captured_at_ms"`
}

// MissionEvent reports one accepted mission lifecycle transition.
type MissionEvent struct {
	RobotID          string            `json:"robot_id"`
	MissionID        string            `json:"mission_id"`
	State            string            `json:"state"`
	PrevState        string            `json:"prev_state,omitempty"`
	Revision         int64             `json:"revision"`
	Stale            bool              `json:"stale,omitempty"`
	StartedAt        int64             `json:"started_at_ms,omitempty"`
	EndedAt          int64             `json:"ended_at_ms,omitempty"`
	CompletedPercent float64           `json:"completed_percent"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// CommandRequest is a platform-issued action for the robot.
type CommandRequest struct {
	CommandID       string   `json:"command_id"`
	Kind            string   `json:"kind"`
	TargetMissionID string   `json:"target_mission_id,omitempty"`
	Args            []string `json:"args,omitempty"`
}

// CommandResult reports the terminal status of a dispatched command.
type CommandResult struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// BridgeRegistered acknowledges a registration.
type BridgeRegistered struct {
	RobotID string `json:"robot_id"`
	Message string `json:"message,omitempty"`
}

// BridgeHeartbeatAck acknowledges a heartbeat.
type BridgeHeartbeatAck struct {
	RobotID  string `json:"robot_id"`
	ServerTS int64  `json:"server_ts"`
}
