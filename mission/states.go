package mission

import (
	"strings"
	"time"
)

// Canonical lifecycle states. Vendors report their own vocabulary; the
// adapter translates into these before records reach the tracker.
const (
	StateQueued     = "queued"
	StateExecuting  = "executing"
	StatePaused     = "paused"
	StateBlocked    = "blocked"
	StateStarved    = "starved"
	StateCancelling = "cancelling"
	StateSucceeded  = "succeeded"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
)

// IsTerminal reports whether a state ends the mission lifecycle.
// Terminal missions are immutable except for retention pruning.
func IsTerminal(state string) bool {
	switch state {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// TerminalStates returns the terminal set for store queries.
func TerminalStates() []string {
	return []string{StateSucceeded, StateFailed, StateCancelled}
}

// KnownState reports whether s is one of the canonical states.
func KnownState(s string) bool {
	switch s {
	case StateQueued, StateExecuting, StatePaused, StateBlocked,
		StateStarved, StateCancelling, StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Normalize lowercases a vendor-reported state name. Returns "" for states
// outside the canonical set so callers can skip them.
func Normalize(vendorState string) string {
	s := strings.ToLower(strings.TrimSpace(vendorState))
	if !KnownState(s) {
		return ""
	}
	return s
}

// Record is one observed vendor mission record after adapter translation.
// Revision is the vendor's own ordering: a revision counter when the vendor
// has one, otherwise the record timestamp in unix milliseconds.
type Record struct {
	MissionID        string
	State            string
	Revision         int64
	StartedAt        *time.Time
	EndedAt          *time.Time
	CompletedPercent float64
	Attributes       map[string]string
}
