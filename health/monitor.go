package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"fleetbridge/config"
)

// Monitor watches two independent signals: platform publish outcomes over a
// rolling window, and vendor poll/stream liveness. When either breaches its
// threshold continuously for the configured sustain duration it raises one
// unhealthy signal; the coordinator drains and exits so the external
// supervisor can restart the process with clean state.
type Monitor struct {
	cfg *config.HealthConfig
	now func() time.Time

	mu           sync.Mutex
	outcomes     []bool // ring buffer of publish results
	next         int
	filled       int
	lastVendorAt time.Time
	breachSince  time.Time
	fired        bool

	unhealthy chan string
}

func New(cfg *config.HealthConfig) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		now:       time.Now,
		outcomes:  make([]bool, cfg.PublishWindow),
		unhealthy: make(chan string, 1),
	}
	m.lastVendorAt = m.now()
	return m
}

// Unhealthy yields the breach reason once thresholds have been sustained.
func (m *Monitor) Unhealthy() <-chan string {
	return m.unhealthy
}

// RecordPublish adds one platform publish outcome to the rolling window.
func (m *Monitor) RecordPublish(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[m.next] = ok
	m.next = (m.next + 1) % len(m.outcomes)
	if m.filled < len(m.outcomes) {
		m.filled++
	}
}

// RecordVendorContact marks the vendor as live. Called after every
// successful poll cycle and for every pushed stream record.
func (m *Monitor) RecordVendorContact() {
	m.mu.Lock()
	m.lastVendorAt = m.now()
	m.mu.Unlock()
}

// ReportFatal fires the unhealthy signal immediately, bypassing the
// sustain window. Used for failures the process cannot recover from on
// its own, such as a broken persistent store.
func (m *Monitor) ReportFatal(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fired {
		return
	}
	m.fired = true
	m.unhealthy <- reason
}

// Check evaluates the thresholds and fires the unhealthy signal when a
// breach has been sustained. It is called from the periodic loop and
// directly by tests.
func (m *Monitor) Check() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fired {
		return
	}

	reason := m.breachReason()
	if reason == "" {
		m.breachSince = time.Time{}
		return
	}
	now := m.now()
	if m.breachSince.IsZero() {
		m.breachSince = now
		log.Printf("health: breach started: %s", reason)
	}
	if now.Sub(m.breachSince) < m.cfg.SustainFor {
		return
	}

	m.fired = true
	m.unhealthy <- fmt.Sprintf("%s, sustained %s", reason, now.Sub(m.breachSince).Round(time.Second))
}

func (m *Monitor) breachReason() string {
	fails := 0
	for i := 0; i < m.filled; i++ {
		if !m.outcomes[i] {
			fails++
		}
	}
	if m.cfg.MaxPublishFailures > 0 && fails >= m.cfg.MaxPublishFailures {
		return fmt.Sprintf("%d publish failures in the last %d attempts", fails, m.filled)
	}
	if age := m.now().Sub(m.lastVendorAt); age > m.cfg.PollStaleAfter {
		return fmt.Sprintf("no vendor contact for %s", age.Round(time.Second))
	}
	return ""
}

// Status is a point-in-time view for the web UI.
type Status struct {
	PublishFailures int       `json:"publish_failures"`
	WindowFilled    int       `json:"window_filled"`
	LastVendorAt    time.Time `json:"last_vendor_at"`
	Breached        bool      `json:"breached"`
}

func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{WindowFilled: m.filled, LastVendorAt: m.lastVendorAt}
	for i := 0; i < m.filled; i++ {
		if !m.outcomes[i] {
			s.PublishFailures++
		}
	}
	s.Breached = m.breachReason() != ""
	return s
}

// Run evaluates thresholds every check interval until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check()
		}
	}
}
