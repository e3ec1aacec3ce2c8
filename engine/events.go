package engine

import (
	"time"

	"fleetbridge/store"
)

// EventType identifies the kind of event emitted by the coordinator.
type EventType int

const (
	// Mission events
	EventMissionTransition EventType = iota + 1
	EventMissionStale

	// Telemetry events
	EventTelemetryPolled

	// Session events
	EventSessionConnected
	EventSessionDisconnected
	EventSessionDegraded

	// Command events
	EventCommandResolved

	// Health events
	EventUnhealthy
)

// Event is the envelope emitted on the coordinator's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// MissionTransitionEvent is emitted for every accepted lifecycle change.
type MissionTransitionEvent struct {
	Mission   store.Mission
	PrevState string
}

// MissionStaleEvent is emitted once when an open mission stops updating.
type MissionStaleEvent struct {
	Mission store.Mission
}

// TelemetryPolledEvent is emitted after each successful telemetry poll.
type TelemetryPolledEvent struct {
	Values     map[string]interface{}
	CapturedAt time.Time
}

// SessionEvent is emitted on vendor connectivity changes.
type SessionEvent struct {
	Epoch int64
	Error string
}

// CommandResolvedEvent is emitted when a platform command reaches a
// terminal disposition.
type CommandResolvedEvent struct {
	CommandID string
	Kind      string
	Status    string
}

// UnhealthyEvent is emitted when the health monitor trips.
type UnhealthyEvent struct {
	Reason string
}
