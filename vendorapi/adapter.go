package vendorapi

import (
	"context"
	"fmt"
	"time"

	"fleetbridge/config"
	"fleetbridge/mission"
)

// TelemetrySnapshot is one polled telemetry frame. Values are vendor-defined
// key/value pairs; the snapshot is owned by the polling cycle that fetched
// it and is superseded, never merged.
type TelemetrySnapshot struct {
	Values     map[string]any
	CapturedAt time.Time
}

// Command is one platform action translated to the vendor surface.
// ID is stable across retries so vendors that deduplicate by command id
// can guarantee at-most-once execution.
type Command struct {
	ID        string
	Kind      string
	MissionID string
	Args      []string
}

// EventStream delivers pushed mission records until the connection drops.
// Records closes and Err yields the terminal error when the stream ends.
type EventStream struct {
	Records <-chan mission.Record
	Err     <-chan error
}

// Adapter is the uniform capability surface over one vendor family. It
// hides the vendor transport (REST polling vs. push stream) from the
// engine; implementations translate vendor payloads into canonical
// mission records.
type Adapter interface {
	FetchTelemetry(ctx context.Context) (*TelemetrySnapshot, error)
	FetchMissionState(ctx context.Context) ([]mission.Record, error)
	SendCommand(ctx context.Context, cmd Command) error
	OpenEventStream(ctx context.Context) (*EventStream, error)
}

// New selects the adapter implementation for the configured vendor family.
func New(cfg *config.VendorConfig) (Adapter, error) {
	switch cfg.Family {
	case "", "rest":
		return NewRESTAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown vendor family %q", cfg.Family)
	}
}
