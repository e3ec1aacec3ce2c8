package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"fleetbridge/protocol"
	"fleetbridge/store"
)

// Sink is the platform-facing capability set the publisher writes to.
// Implementations must return only after the platform has acknowledged.
type Sink interface {
	PublishTelemetry(ctx context.Context, report protocol.TelemetryReport) error
	PublishMissionEvent(ctx context.Context, event protocol.MissionEvent) error
	PublishHeartbeat(ctx context.Context, hb protocol.BridgeHeartbeat) error
}

// Publisher pushes canonical telemetry and mission events to the platform,
// deduplicating against durable per-key cursors. A value is suppressed only
// when its hash matches the cursor within the current connection epoch;
// bumping the epoch therefore forces one full republish pass, which is how
// platform-side drift after a disconnect is healed.
type Publisher struct {
	db   *store.DB
	sink Sink

	mu    sync.Mutex
	epoch int64
}

// New creates a publisher. The epoch starts at zero; the engine advances it
// from session reconnect events.
func New(db *store.DB, sink Sink) *Publisher {
	return &Publisher{db: db, sink: sink}
}

// SetEpoch invalidates all cursors recorded under earlier epochs.
func (p *Publisher) SetEpoch(epoch int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch > p.epoch {
		p.epoch = epoch
		log.Printf("publisher: epoch %d, full republish pass pending", epoch)
	}
}

// Epoch returns the current connection epoch.
func (p *Publisher) Epoch() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// PublishTelemetry publishes one telemetry channel. The hash covers only
// the values, not the capture timestamp, so an unchanged frame polled twice
// results in exactly one platform call. Returns whether a publish happened.
func (p *Publisher) PublishTelemetry(ctx context.Context, report protocol.TelemetryReport) (bool, error) {
	payload, err := json.Marshal(report.Values)
	if err != nil {
		return false, fmt.Errorf("marshal telemetry %s: %w", report.Key, err)
	}
	key := "telemetry/" + report.Key

	send := func(ctx context.Context) error { return p.sink.PublishTelemetry(ctx, report) }
	return p.publish(ctx, key, payload, send)
}

// PublishMissionEvent publishes one mission transition. The hash covers the
// event content including revision, so a re-derived identical event is
// suppressed while any accepted new revision goes out.
func (p *Publisher) PublishMissionEvent(ctx context.Context, event protocol.MissionEvent) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("marshal mission event %s: %w", event.MissionID, err)
	}
	key := "mission/" + event.MissionID

	send := func(ctx context.Context) error { return p.sink.PublishMissionEvent(ctx, event) }
	return p.publish(ctx, key, payload, send)
}

// PublishHeartbeat always publishes; liveness signals are never deduplicated.
func (p *Publisher) PublishHeartbeat(ctx context.Context, hb protocol.BridgeHeartbeat) error {
	return p.sink.PublishHeartbeat(ctx, hb)
}

func (p *Publisher) publish(ctx context.Context, key string, payload []byte, send func(context.Context) error) (bool, error) {
	hash := fmt.Sprintf("%016x", xxhash.Sum64(payload))
	epoch := p.Epoch()

	cursor, err := p.db.ReadPublishCursor(key)
	if err != nil {
		return false, fmt.Errorf("read cursor %s: %w", key, err)
	}
	if cursor != nil && cursor.Epoch == epoch && cursor.ValueHash == hash {
		return false, nil // unchanged within this epoch
	}

	if err := send(ctx); err != nil {
		return false, fmt.Errorf("publish %s: %w", key, err)
	}

	// Cursor moves only after the platform acknowledged: a crash between
	// send and record re-publishes on restart, which the platform must
	// tolerate (at-least-once).
	if err := p.db.RecordPublishCursor(key, hash, epoch, time.Now().UTC()); err != nil {
		return true, fmt.Errorf("record cursor %s: %w", key, err)
	}
	return true, nil
}
