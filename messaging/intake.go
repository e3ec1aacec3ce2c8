package messaging

import (
	"context"
	"log"

	"fleetbridge/config"
	"fleetbridge/protocol"
)

// CommandExecutor resolves one platform command to a terminal result.
type CommandExecutor interface {
	Execute(ctx context.Context, req protocol.CommandRequest) protocol.CommandResult
}

type queuedCommand struct {
	corID string
	req   protocol.CommandRequest
}

// Intake subscribes to the platform action topic and feeds commands, in
// arrival order, through a single executor goroutine. Serial execution
// keeps pause-then-resume sequences from interleaving.
type Intake struct {
	protocol.NoOpHandler

	client   *Client
	platform *Platform
	executor CommandExecutor
	robotID  string
	topic    string
	queue    chan queuedCommand
}

func NewIntake(client *Client, platform *Platform, executor CommandExecutor, cfg *config.Config) *Intake {
	return &Intake{
		client:   client,
		platform: platform,
		executor: executor,
		robotID:  cfg.RobotID,
		topic:    cfg.Messaging.ActionTopic,
		queue:    make(chan queuedCommand, 32),
	}
}

// forMe admits messages addressed to this robot or broadcast to all.
func (in *Intake) forMe(hdr *protocol.RawHeader) bool {
	if hdr.Dst.Role != protocol.RoleBridge {
		return false
	}
	return hdr.Dst.Robot == in.robotID || hdr.Dst.Robot == protocol.RobotBroadcast
}

// Start subscribes the action topic and runs the executor loop until the
// context ends.
func (in *Intake) Start(ctx context.Context) error {
	ingestor := protocol.NewIngestor(in, in.forMe)
	if err := in.client.Subscribe(in.topic, ingestor.HandleRaw); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case qc := <-in.queue:
			in.run(ctx, qc)
		}
	}
}

func (in *Intake) run(ctx context.Context, qc queuedCommand) {
	res := in.executor.Execute(ctx, qc.req)
	log.Printf("intake: command %s (%s) resolved %s", res.CommandID, qc.req.Kind, res.Status)
	if err := in.platform.PublishCommandResult(ctx, qc.corID, res); err != nil {
		log.Printf("intake: report result for %s: %v", res.CommandID, err)
	}
}

func (in *Intake) HandleCommandRequest(env *protocol.Envelope, p *protocol.CommandRequest) {
	select {
	case in.queue <- queuedCommand{corID: env.ID, req: *p}:
	default:
		log.Printf("intake: command queue full, dropping %s (%s)", p.CommandID, p.Kind)
	}
}

func (in *Intake) HandleBridgeRegistered(_ *protocol.Envelope, p *protocol.BridgeRegistered) {
	log.Printf("intake: registration acknowledged: robot=%s msg=%s", p.RobotID, p.Message)
}

func (in *Intake) HandleBridgeHeartbeatAck(_ *protocol.Envelope, p *protocol.BridgeHeartbeatAck) {
	log.Printf("intake: heartbeat ack: robot=%s server_ts=%d", p.RobotID, p.ServerTS)
}
