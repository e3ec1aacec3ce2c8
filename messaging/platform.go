package messaging

import (
	"context"
	"fmt"

	"fleetbridge/config"
	"fleetbridge/protocol"
)

// Platform wraps the messaging client with the protocol surface the engine
// publishes through: telemetry, mission events, heartbeats, command
// results. Each call returns only after the broker acknowledged, which is
// what lets the publisher move its cursor.
type Platform struct {
	client *Client
	topic  string
	src    protocol.Address
}

func NewPlatform(client *Client, cfg *config.Config) *Platform {
	return &Platform{
		client: client,
		topic:  cfg.Messaging.DataTopic,
		src:    protocol.Address{Role: protocol.RoleBridge, Robot: cfg.RobotID, Site: cfg.SiteID},
	}
}

func (p *Platform) send(ctx context.Context, msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, p.src, protocol.Address{Role: protocol.RolePlatform}, payload)
	if err != nil {
		return fmt.Errorf("build %s: %w", msgType, err)
	}
	return p.client.PublishEnvelope(ctx, p.topic, env)
}

func (p *Platform) PublishTelemetry(ctx context.Context, report protocol.TelemetryReport) error {
	return p.send(ctx, protocol.TypeTelemetryReport, &report)
}

func (p *Platform) PublishMissionEvent(ctx context.Context, event protocol.MissionEvent) error {
	return p.send(ctx, protocol.TypeMissionEvent, &event)
}

func (p *Platform) PublishHeartbeat(ctx context.Context, hb protocol.BridgeHeartbeat) error {
	return p.send(ctx, protocol.TypeBridgeHeartbeat, &hb)
}

func (p *Platform) PublishRegister(ctx context.Context, reg protocol.BridgeRegister) error {
	return p.send(ctx, protocol.TypeBridgeRegister, &reg)
}

// PublishCommandResult replies to a command request, correlating by the
// request envelope id when one is known.
func (p *Platform) PublishCommandResult(ctx context.Context, corID string, res protocol.CommandResult) error {
	env, err := protocol.NewReply(protocol.TypeCommandResult, p.src, protocol.Address{Role: protocol.RolePlatform}, corID, &res)
	if err != nil {
		return fmt.Errorf("build command result: %w", err)
	}
	return p.client.PublishEnvelope(ctx, p.topic, env)
}
