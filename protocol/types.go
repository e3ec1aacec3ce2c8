package protocol

// Message type constants for the bridge protocol.
const (
	// Bridge -> Platform (published on the data topic)
	TypeBridgeRegister  = "bridge.register"
	TypeBridgeHeartbeat = "bridge.heartbeat"
	TypeTelemetryReport = "telemetry.report"
	TypeMissionEvent    = "mission.event"
	TypeCommandResult   = "command.result"

	// Platform -> Bridge (published on the action topic)
	TypeBridgeRegistered   = "bridge.registered"
	TypeBridgeHeartbeatAck = "bridge.heartbeat_ack"
	TypeCommandRequest     = "command.request"
)

// Roles for Address.Role.
const (
	RoleBridge   = "bridge"
	RolePlatform = "platform"
)

// RobotBroadcast in Address.Robot targets every bridge on the topic.
const RobotBroadcast = "*"

// Protocol version.
const Version = 1
