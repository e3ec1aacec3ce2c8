package session

import (
	"context"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"fleetbridge/config"
)

// Connection states.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	// Degraded: mission data still readable over REST, but the push
	// channel is down. Command dispatch and polling stay possible.
	StatusDegraded = "degraded"
)

// State is a point-in-time snapshot of the connection.
type State struct {
	Status              string
	ConsecutiveFailures int
	LastSuccessAt       time.Time
	Epoch               int64
}

// Manager owns the authenticated vendor connection state: reconnect with
// backoff, failure counting, and disconnect/reconnect notification. The
// connection epoch increments on every successful (re)connect; the data
// publisher uses it to force a full republish pass after reconnects.
type Manager struct {
	cfg   config.SessionConfig
	probe func(ctx context.Context) error

	// Serializes Connect so concurrent loops recovering from the same
	// drop run one probe sequence and one epoch bump.
	connectMu sync.Mutex

	mu            sync.Mutex
	status        string
	failures      int
	lastSuccessAt time.Time
	epoch         int64

	onDisconnect []func(err error)
	onReconnect  []func(epoch int64)
}

// NewManager creates a session manager. probe is a cheap vendor round-trip
// used to establish and verify connectivity.
func NewManager(cfg config.SessionConfig, probe func(ctx context.Context) error) *Manager {
	return &Manager{
		cfg:    cfg,
		probe:  probe,
		status: StatusDisconnected,
	}
}

// OnDisconnect registers a callback invoked exactly once per disconnect
// event. Must be called before the engine starts.
func (m *Manager) OnDisconnect(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// OnReconnect registers a callback invoked once per successful (re)connect
// with the new connection epoch.
func (m *Manager) OnReconnect(fn func(epoch int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// Snapshot returns the current connection state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Status:              m.status,
		ConsecutiveFailures: m.failures,
		LastSuccessAt:       m.lastSuccessAt,
		Epoch:               m.epoch,
	}
}

// Epoch returns the current connection epoch.
func (m *Manager) Epoch() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// SeedEpoch raises the epoch counter so the next connect starts above
// epochs recorded by a previous process life. Only moves forward; call
// before the first Connect.
func (m *Manager) SeedEpoch(epoch int64) {
	m.mu.Lock()
	if epoch > m.epoch {
		m.epoch = epoch
	}
	m.mu.Unlock()
}

// Connected reports whether the session is currently usable for vendor
// calls (Connected or Degraded).
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusConnected || m.status == StatusDegraded
}

// Connect probes the vendor until it answers, applying exponential backoff
// with jitter between attempts. Retries are uncapped; only ctx cancellation
// stops them.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	// A concurrent caller may have reconnected while we waited.
	if m.Connected() {
		return nil
	}

	m.mu.Lock()
	m.status = StatusConnecting
	m.mu.Unlock()

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.probe(ctx); err == nil {
			m.ReportSuccess()
			return nil
		} else {
			m.recordFailure(err, false)
			attempt++
			delay := m.backoffDelay(attempt)
			log.Printf("session: vendor probe failed (attempt %d), retrying in %v: %v",
				attempt, delay.Round(time.Millisecond), err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// EnsureConnected is idempotent and safe to call before every vendor
// operation: a no-op while connected, a full Connect otherwise.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.Connected() {
		return nil
	}
	return m.Connect(ctx)
}

// ReportSuccess records a successful vendor round-trip. A transition out of
// Disconnected/Connecting bumps the epoch and fires reconnect callbacks,
// which triggers the full resync pass.
func (m *Manager) ReportSuccess() {
	m.mu.Lock()
	wasDown := m.status == StatusDisconnected || m.status == StatusConnecting
	m.status = StatusConnected
	m.failures = 0
	m.lastSuccessAt = time.Now().UTC()
	if wasDown {
		m.epoch++
	}
	epoch := m.epoch
	callbacks := append([]func(int64){}, m.onReconnect...)
	m.mu.Unlock()

	if wasDown {
		log.Printf("session: connected (epoch %d)", epoch)
		for _, fn := range callbacks {
			fn(epoch)
		}
	}
}

// ReportFailure records a transport-level vendor failure. The first failure
// after a connected period transitions to Disconnected and fires disconnect
// callbacks exactly once.
func (m *Manager) ReportFailure(err error) {
	m.recordFailure(err, true)
}

func (m *Manager) recordFailure(err error, transition bool) {
	m.mu.Lock()
	m.failures++
	wasUp := m.status == StatusConnected || m.status == StatusDegraded
	if transition {
		m.status = StatusDisconnected
	}
	callbacks := append([]func(error){}, m.onDisconnect...)
	m.mu.Unlock()

	if transition && wasUp {
		log.Printf("session: disconnected: %v", err)
		for _, fn := range callbacks {
			fn(err)
		}
	}
}

// ReportDegraded marks the push channel as down while REST still answers.
// Distinguished from Disconnected so polling and dispatch continue.
func (m *Manager) ReportDegraded(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusConnected {
		m.status = StatusDegraded
		log.Printf("session: degraded, event stream down: %v", err)
	}
}

// ReportStreamRecovered clears a Degraded state after the push channel
// comes back.
func (m *Manager) ReportStreamRecovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusDegraded {
		m.status = StatusConnected
		log.Printf("session: event stream recovered")
	}
}

// backoffDelay returns base * factor^(attempt-1) capped at the configured
// maximum, with ±20% jitter so a fleet of bridges does not reconnect in
// lockstep.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	base := m.cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	factor := m.cfg.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	max := m.cfg.BackoffMax
	if max <= 0 {
		max = 30 * time.Second
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if d > max || d <= 0 {
		d = max
	}
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
}
