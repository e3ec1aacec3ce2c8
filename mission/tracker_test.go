package mission

import (
	"path/filepath"
	"testing"
	"time"

	"fleetbridge/store"
)

type recordingEmitter struct {
	transitions []string // "missionID:prev->state"
	stales      []string
}

func (e *recordingEmitter) EmitMissionTransition(m store.Mission, prev string) {
	e.transitions = append(e.transitions, m.ID+":"+prev+"->"+m.State)
}

func (e *recordingEmitter) EmitMissionStale(m store.Mission) {
	e.stales = append(e.stales, m.ID)
}

func testTracker(t *testing.T) (*Tracker, *recordingEmitter, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	em := &recordingEmitter{}
	return NewTracker(db, em), em, db
}

func TestApplyCreatesOnFirstObservation(t *testing.T) {
	tr, em, _ := testTracker(t)

	m, err := tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 2})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if m == nil {
		t.Fatal("record should be accepted")
	}
	if m.State != StateExecuting {
		t.Errorf("state = %q", m.State)
	}
	if len(em.transitions) != 1 || em.transitions[0] != "m-1:->executing" {
		t.Errorf("transitions = %v", em.transitions)
	}
}

func TestRevisionOrderInvariance(t *testing.T) {
	// For any delivery order, the final state is the one implied by the
	// highest revision.
	orders := [][]Record{
		{
			{MissionID: "m-1", State: StateQueued, Revision: 1},
			{MissionID: "m-1", State: StateExecuting, Revision: 2},
			{MissionID: "m-1", State: StateSucceeded, Revision: 3},
		},
		{
			{MissionID: "m-1", State: StateSucceeded, Revision: 3},
			{MissionID: "m-1", State: StateQueued, Revision: 1},
			{MissionID: "m-1", State: StateExecuting, Revision: 2},
		},
		{
			{MissionID: "m-1", State: StateExecuting, Revision: 2},
			{MissionID: "m-1", State: StateSucceeded, Revision: 3},
			{MissionID: "m-1", State: StateQueued, Revision: 1},
		},
	}

	for i, seq := range orders {
		tr, _, db := testTracker(t)
		for _, rec := range seq {
			if _, err := tr.Apply(rec); err != nil {
				t.Fatalf("order %d: apply: %v", i, err)
			}
		}
		m, _ := db.LoadMission("m-1")
		if m.State != StateSucceeded || m.Revision != 3 {
			t.Errorf("order %d: final = %s rev %d, want succeeded rev 3", i, m.State, m.Revision)
		}
	}
}

func TestTerminalMonotonicity(t *testing.T) {
	tr, em, db := testTracker(t)

	tr.Apply(Record{MissionID: "m-1", State: StateSucceeded, Revision: 5})
	// Later-arriving non-terminal record must never revert a terminal state.
	accepted, err := tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 9})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if accepted != nil {
		t.Error("non-terminal record accepted after terminal state")
	}

	m, _ := db.LoadMission("m-1")
	if m.State != StateSucceeded {
		t.Errorf("state = %q, want succeeded", m.State)
	}
	if len(em.transitions) != 1 {
		t.Errorf("transitions = %v, want exactly one", em.transitions)
	}
}

func TestRevisionTieBreaksTowardTerminal(t *testing.T) {
	tr, _, db := testTracker(t)

	tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 4})

	// Same revision, non-terminal: discarded.
	if m, _ := tr.Apply(Record{MissionID: "m-1", State: StatePaused, Revision: 4}); m != nil {
		t.Error("non-terminal tie should be discarded")
	}

	// Same revision, terminal: accepted.
	if m, _ := tr.Apply(Record{MissionID: "m-1", State: StateFailed, Revision: 4}); m == nil {
		t.Error("terminal tie should be accepted")
	}
	m, _ := db.LoadMission("m-1")
	if m.State != StateFailed {
		t.Errorf("state = %q, want failed", m.State)
	}
}

func TestDuplicateRecordDiscarded(t *testing.T) {
	tr, em, _ := testTracker(t)

	tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 2})
	accepted, err := tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 2})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if accepted != nil {
		t.Error("duplicate record should be discarded")
	}
	if len(em.transitions) != 1 {
		t.Errorf("transitions = %v, want exactly one", em.transitions)
	}
}

func TestUnknownStateRejected(t *testing.T) {
	tr, _, _ := testTracker(t)
	if _, err := tr.Apply(Record{MissionID: "m-1", State: "REASSIGNED", Revision: 1}); err == nil {
		t.Error("unknown state should error")
	}
}

func TestAcceptedRecordClearsStaleFlag(t *testing.T) {
	tr, em, db := testTracker(t)

	tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 1})

	// Backdate the row so the sweep sees it as stale.
	m, _ := db.LoadMission("m-1")
	m.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	db.UpsertMission(m)

	if err := tr.SweepStale(time.Minute); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(em.stales) != 1 || em.stales[0] != "m-1" {
		t.Fatalf("stales = %v", em.stales)
	}
	m, _ = db.LoadMission("m-1")
	if !m.Stale {
		t.Fatal("mission should be flagged stale")
	}

	// A second sweep does not re-flag.
	tr.SweepStale(time.Minute)
	if len(em.stales) != 1 {
		t.Errorf("stales = %v, want one entry", em.stales)
	}

	// A fresh vendor record clears the flag.
	tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 2})
	m, _ = db.LoadMission("m-1")
	if m.Stale {
		t.Error("accepted record should clear stale flag")
	}
}

func TestSweepStaleSkipsTerminal(t *testing.T) {
	tr, em, db := testTracker(t)

	tr.Apply(Record{MissionID: "m-1", State: StateSucceeded, Revision: 1})
	m, _ := db.LoadMission("m-1")
	m.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	db.UpsertMission(m)

	tr.SweepStale(time.Minute)
	if len(em.stales) != 0 {
		t.Errorf("terminal mission flagged stale: %v", em.stales)
	}
}

func TestMarkPublished(t *testing.T) {
	tr, _, db := testTracker(t)

	tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 3})
	if err := tr.MarkPublished("m-1", StateExecuting, 3); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	m, _ := db.LoadMission("m-1")
	if m.LastPublishedState != StateExecuting || m.LastPublishedRevision != 3 {
		t.Errorf("published mirror = %s/%d", m.LastPublishedState, m.LastPublishedRevision)
	}
}

// markingEmitter mirrors the engine's transition subscriber: it publishes
// and immediately records the publish through MarkPublished, which takes
// the same per-mission lock Apply holds around its read-modify-write.
type markingEmitter struct {
	tr   *Tracker
	errs []error
}

func (e *markingEmitter) EmitMissionTransition(m store.Mission, prev string) {
	if err := e.tr.MarkPublished(m.ID, m.State, m.Revision); err != nil {
		e.errs = append(e.errs, err)
	}
}

func (e *markingEmitter) EmitMissionStale(store.Mission) {}

func TestTransitionSubscriberCanMarkPublished(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	em := &markingEmitter{}
	tr := NewTracker(db, em)
	em.tr = tr

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := tr.Apply(Record{MissionID: "m-1", State: StateExecuting, Revision: 1}); err != nil {
			t.Errorf("apply: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Apply blocked while its subscriber called MarkPublished")
	}

	for _, err := range em.errs {
		t.Errorf("mark published: %v", err)
	}
	m, err := db.LoadMission("m-1")
	if err != nil || m == nil {
		t.Fatalf("load: %v, %v", m, err)
	}
	if m.LastPublishedState != StateExecuting || m.LastPublishedRevision != 1 {
		t.Errorf("published mirror = %s/%d", m.LastPublishedState, m.LastPublishedRevision)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"EXECUTING", StateExecuting},
		{"Succeeded", StateSucceeded},
		{" starved ", StateStarved},
		{"REASSIGNED", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
