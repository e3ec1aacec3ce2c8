package protocol

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleBridgeRegister(*Envelope, *BridgeRegister)         {}
func (NoOpHandler) HandleBridgeHeartbeat(*Envelope, *BridgeHeartbeat)       {}
func (NoOpHandler) HandleTelemetryReport(*Envelope, *TelemetryReport)       {}
func (NoOpHandler) HandleMissionEvent(*Envelope, *MissionEvent)             {}
func (NoOpHandler) HandleCommandResult(*Envelope, *CommandResult)           {}
func (NoOpHandler) HandleBridgeRegistered(*Envelope, *BridgeRegistered)     {}
func (NoOpHandler) HandleBridgeHeartbeatAck(*Envelope, *BridgeHeartbeatAck) {}
func (NoOpHandler) HandleCommandRequest(*Envelope, *CommandRequest)         {}

// Compile-time check that NoOpHandler implements MessageHandler.
var _ MessageHandler = NoOpHandler{}
