package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleetbridge/config"
)

func fastBackoff() config.SessionConfig {
	return config.SessionConfig{
		BackoffBase:   time.Millisecond,
		BackoffFactor: 2,
		BackoffMax:    5 * time.Millisecond,
	}
}

func TestConnectRetriesUntilProbeSucceeds(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(fastBackoff(), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("refused")
		}
		return nil
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("probe calls = %d, want 3", calls.Load())
	}
	s := m.Snapshot()
	if s.Status != StatusConnected {
		t.Errorf("status = %q", s.Status)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0 after success", s.ConsecutiveFailures)
	}
	if s.Epoch != 1 {
		t.Errorf("epoch = %d, want 1", s.Epoch)
	}
}

func TestConnectStopsOnContextCancel(t *testing.T) {
	m := NewManager(fastBackoff(), func(ctx context.Context) error {
		return errors.New("always down")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.Connect(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if m.Snapshot().Status == StatusConnected {
		t.Error("should not report connected")
	}
}

func TestEnsureConnectedIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(fastBackoff(), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := m.EnsureConnected(context.Background()); err != nil {
			t.Fatalf("EnsureConnected: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("probe calls = %d, want 1 (later calls are no-ops)", calls.Load())
	}
}

func TestDisconnectCallbackFiresOncePerEvent(t *testing.T) {
	m := NewManager(fastBackoff(), func(ctx context.Context) error { return nil })

	var disconnects atomic.Int32
	m.OnDisconnect(func(err error) { disconnects.Add(1) })

	m.ReportSuccess()
	m.ReportFailure(errors.New("broken pipe"))
	m.ReportFailure(errors.New("still down"))
	m.ReportFailure(errors.New("still down"))

	if disconnects.Load() != 1 {
		t.Errorf("disconnect callbacks = %d, want 1", disconnects.Load())
	}
	s := m.Snapshot()
	if s.Status != StatusDisconnected {
		t.Errorf("status = %q", s.Status)
	}
	if s.ConsecutiveFailures != 3 {
		t.Errorf("failures = %d", s.ConsecutiveFailures)
	}

	// A recovery and a second drop fires the callback again.
	m.ReportSuccess()
	m.ReportFailure(errors.New("down again"))
	if disconnects.Load() != 2 {
		t.Errorf("disconnect callbacks = %d, want 2", disconnects.Load())
	}
}

func TestEpochBumpsOnEachReconnect(t *testing.T) {
	m := NewManager(fastBackoff(), func(ctx context.Context) error { return nil })

	var epochs []int64
	m.OnReconnect(func(epoch int64) { epochs = append(epochs, epoch) })

	m.ReportSuccess()                     // epoch 1
	m.ReportSuccess()                     // still connected, no bump
	m.ReportFailure(errors.New("drop"))   // down
	m.ReportSuccess()                     // epoch 2

	if len(epochs) != 2 || epochs[0] != 1 || epochs[1] != 2 {
		t.Errorf("epochs = %v, want [1 2]", epochs)
	}
	if m.Epoch() != 2 {
		t.Errorf("Epoch = %d", m.Epoch())
	}
}

func TestConcurrentConnectRunsOneProbeSequence(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	m := NewManager(fastBackoff(), func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	})

	var epochs atomic.Int32
	m.OnReconnect(func(int64) { epochs.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Connect(context.Background()); err != nil {
				t.Errorf("Connect: %v", err)
			}
		}()
	}
	<-started
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("probe calls = %d, want 1", calls.Load())
	}
	if epochs.Load() != 1 {
		t.Errorf("epoch bumps = %d, want 1", epochs.Load())
	}
	if m.Epoch() != 1 {
		t.Errorf("epoch = %d, want 1", m.Epoch())
	}
}

func TestSeededEpochStartsAbovePreviousLife(t *testing.T) {
	m := NewManager(fastBackoff(), func(ctx context.Context) error { return nil })
	m.SeedEpoch(4)
	m.SeedEpoch(2) // only moves forward

	var epochs []int64
	m.OnReconnect(func(epoch int64) { epochs = append(epochs, epoch) })

	m.ReportSuccess()
	if len(epochs) != 1 || epochs[0] != 5 {
		t.Errorf("epochs = %v, want [5]", epochs)
	}
}

func TestDegradedIsDistinctFromDisconnected(t *testing.T) {
	m := NewManager(fastBackoff(), func(ctx context.Context) error { return nil })

	m.ReportSuccess()
	m.ReportDegraded(errors.New("stream eof"))

	s := m.Snapshot()
	if s.Status != StatusDegraded {
		t.Fatalf("status = %q, want degraded", s.Status)
	}
	if !m.Connected() {
		t.Error("degraded session must still be usable for REST calls")
	}

	m.ReportStreamRecovered()
	if m.Snapshot().Status != StatusConnected {
		t.Errorf("status = %q after recovery", m.Snapshot().Status)
	}

	// Degraded never applies while disconnected.
	m.ReportFailure(errors.New("down"))
	m.ReportDegraded(errors.New("stream eof"))
	if m.Snapshot().Status != StatusDisconnected {
		t.Errorf("status = %q, want disconnected", m.Snapshot().Status)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	m := NewManager(config.SessionConfig{
		BackoffBase:   100 * time.Millisecond,
		BackoffFactor: 2,
		BackoffMax:    time.Second,
	}, nil)

	for attempt := 1; attempt <= 10; attempt++ {
		d := m.backoffDelay(attempt)
		// Jitter is ±20%, cap is 1s.
		if d > 1200*time.Millisecond {
			t.Errorf("attempt %d: delay %v exceeds jittered cap", attempt, d)
		}
		if d <= 0 {
			t.Errorf("attempt %d: non-positive delay %v", attempt, d)
		}
	}

	// Early attempts stay near the base.
	if d := m.backoffDelay(1); d > 200*time.Millisecond {
		t.Errorf("first delay %v too large", d)
	}
}

func TestBackoffIsJittered(t *testing.T) {
	m := NewManager(fastBackoff(), nil)
	seen := map[time.Duration]bool{}
	for i := 0; i < 50; i++ {
		seen[m.backoffDelay(3)] = true
	}
	if len(seen) < 2 {
		t.Error("expected jitter to vary delays")
	}
}

// Guards against the deadlock class where a callback reads the manager.
func TestCallbackMayReadSnapshot(t *testing.T) {
	m := NewManager(fastBackoff(), func(ctx context.Context) error { return nil })
	done := make(chan struct{})
	m.OnReconnect(func(epoch int64) {
		_ = m.Snapshot()
		close(done)
	})
	m.ReportSuccess()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback deadlocked")
	}
}
