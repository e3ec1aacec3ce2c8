package protocol

import (
	"encoding/json"
	"log"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler defines callbacks for all protocol message types.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	// Bridge -> Platform
	HandleBridgeRegister(env *Envelope, p *BridgeRegister)
	HandleBridgeHeartbeat(env *Envelope, p *BridgeHeartbeat)
	HandleTelemetryReport(env *Envelope, p *TelemetryReport)
	HandleMissionEvent(env *Envelope, p *MissionEvent)
	HandleCommandResult(env *Envelope, p *CommandResult)

	// Platform -> Bridge
	HandleBridgeRegistered(env *Envelope, p *BridgeRegistered)
	HandleBridgeHeartbeatAck(env *Envelope, p *BridgeHeartbeatAck)
	HandleCommandRequest(env *Envelope, p *CommandRequest)
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
}

// NewIngestor creates an ingestor with the given handler and filter.
func NewIngestor(handler MessageHandler, filter FilterFunc) *Ingestor {
	return &Ingestor{
		handler: handler,
		filter:  filter,
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	// Phase 1: decode routing header only
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		log.Printf("protocol: header decode error: %v", err)
		return
	}

	// Check expiry
	if IsExpiredHeader(&hdr) {
		log.Printf("protocol: dropping expired message %s (type=%s)", hdr.ID, hdr.Type)
		return
	}

	// Apply filter
	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	// Phase 2: full envelope decode
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("protocol: envelope decode error: %v", err)
		return
	}

	// Dispatch by type
	switch env.Type {
	case TypeBridgeRegister:
		decodeAndCall(ing.handler.HandleBridgeRegister, &env)
	case TypeBridgeHeartbeat:
		decodeAndCall(ing.handler.HandleBridgeHeartbeat, &env)
	case TypeTelemetryReport:
		decodeAndCall(ing.handler.HandleTelemetryReport, &env)
	case TypeMissionEvent:
		decodeAndCall(ing.handler.HandleMissionEvent, &env)
	case TypeCommandResult:
		decodeAndCall(ing.handler.HandleCommandResult, &env)
	case TypeBridgeRegistered:
		decodeAndCall(ing.handler.HandleBridgeRegistered, &env)
	case TypeBridgeHeartbeatAck:
		decodeAndCall(ing.handler.HandleBridgeHeartbeatAck, &env)
	case TypeCommandRequest:
		decodeAndCall(ing.handler.HandleCommandRequest, &env)
	default:
		log.Printf("protocol: unknown message type: %s", env.Type)
	}
}

// decodeAndCall unmarshals the payload and calls the handler method.
func decodeAndCall[T any](fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Printf("protocol: payload decode error for %s: %v", env.Type, err)
		return
	}
	fn(env, &p)
}
