package protocol

import "time"

// Default TTLs by message category. Heartbeats go stale fast; command
// traffic must not be replayed long after the operator issued it.
var defaultTTLs = map[string]time.Duration{
	TypeBridgeHeartbeat:    90 * time.Second,
	TypeBridgeHeartbeatAck: 90 * time.Second,

	TypeBridgeRegister:   5 * time.Minute,
	TypeBridgeRegistered: 5 * time.Minute,

	TypeTelemetryReport: 5 * time.Minute,

	TypeCommandRequest: 2 * time.Minute,
	TypeCommandResult:  10 * time.Minute,

	TypeMissionEvent: 30 * time.Minute,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = 10 * time.Minute

// DefaultTTLFor returns the default TTL for a message type.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired returns true if the envelope has passed its expiry time.
func IsExpired(env *Envelope) bool {
	if env.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(env.ExpiresAt)
}

// IsExpiredHeader checks expiry using only the raw header.
func IsExpiredHeader(hdr *RawHeader) bool {
	if hdr.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(hdr.ExpiresAt)
}
