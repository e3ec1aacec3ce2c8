package mission

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fleetbridge/store"
)

// ErrPersistence marks mission store failures. Durable state is the source
// of truth, so callers must treat these as fatal rather than skip the record.
var ErrPersistence = errors.New("mission store failure")

// EventEmitter receives mission lifecycle events produced by the tracker.
type EventEmitter interface {
	EmitMissionTransition(m store.Mission, prevState string)
	EmitMissionStale(m store.Mission)
}

// Tracker derives canonical mission state from raw vendor records.
//
// Both the polling loop and the event-stream listener feed Apply; it is
// idempotent under duplicate and out-of-order delivery because records are
// only accepted in vendor-revision order. Access is serialized per mission
// id, so unrelated missions never block each other.
type Tracker struct {
	db      *store.DB
	emitter EventEmitter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a mission tracker backed by the given store.
func NewTracker(db *store.DB, emitter EventEmitter) *Tracker {
	return &Tracker{
		db:      db,
		emitter: emitter,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lockFor(missionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[missionID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[missionID] = l
	}
	return l
}

// Apply evaluates one vendor record against the durable mission state.
// It returns the updated mission when the record was accepted, or nil when
// it was discarded as stale, out of order, or targeting a terminal mission.
// Exactly one transition event is emitted per accepted record.
func (t *Tracker) Apply(rec Record) (*store.Mission, error) {
	if rec.MissionID == "" {
		return nil, fmt.Errorf("record has no mission id")
	}
	if !KnownState(rec.State) {
		return nil, fmt.Errorf("record for %s has unknown state %q", rec.MissionID, rec.State)
	}

	l := t.lockFor(rec.MissionID)
	l.Lock()
	m, prevState, err := t.applyLocked(rec)
	l.Unlock()
	if err != nil || m == nil {
		return nil, err
	}

	// Emit outside the mission lock: subscribers publish and then call
	// back into MarkPublished, which takes the same lock.
	t.emitter.EmitMissionTransition(*m, prevState)
	return m, nil
}

func (t *Tracker) applyLocked(rec Record) (*store.Mission, string, error) {
	m, err := t.db.LoadMission(rec.MissionID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: load mission %s: %v", ErrPersistence, rec.MissionID, err)
	}

	now := time.Now().UTC()
	prevState := ""
	if m == nil {
		// First observation creates the mission in whatever state the
		// vendor reports it, including directly Executing or terminal.
		m = &store.Mission{
			ID:                    rec.MissionID,
			LastPublishedRevision: -1,
			FirstSeenAt:           now,
		}
	} else {
		prevState = m.State
		if !t.accepts(m, rec) {
			return nil, "", nil
		}
	}

	m.State = rec.State
	m.Revision = rec.Revision
	m.Stale = false
	m.CompletedPercent = rec.CompletedPercent
	if rec.StartedAt != nil {
		m.StartedAt = rec.StartedAt
	}
	if rec.EndedAt != nil {
		m.EndedAt = rec.EndedAt
	}
	if len(rec.Attributes) > 0 {
		m.Attributes = rec.Attributes
	}
	m.UpdatedAt = now

	if err := t.db.UpsertMission(m); err != nil {
		return nil, "", fmt.Errorf("%w: upsert mission %s: %v", ErrPersistence, m.ID, err)
	}
	return m, prevState, nil
}

// accepts applies the revision-ordering and terminal-monotonicity rules.
// Rejections are logged and the record is discarded, never applied.
func (t *Tracker) accepts(m *store.Mission, rec Record) bool {
	if IsTerminal(m.State) {
		if rec.State != m.State || rec.Revision != m.Revision {
			log.Printf("mission: discarding record for terminal %s (state=%s rev=%d)",
				m.ID, rec.State, rec.Revision)
		}
		return false
	}
	if rec.Revision < m.Revision {
		log.Printf("mission: discarding out-of-order record for %s (rev=%d < %d)",
			m.ID, rec.Revision, m.Revision)
		return false
	}
	if rec.Revision == m.Revision {
		// Ties break toward the terminal state: a terminal outcome must
		// never be shadowed by a stale non-terminal read.
		if !IsTerminal(rec.State) {
			return false
		}
	}
	return true
}

// MarkPublished records the state and revision last acknowledged by the
// platform, so a restart can tell which missions still need republishing.
func (t *Tracker) MarkPublished(missionID, state string, revision int64) error {
	l := t.lockFor(missionID)
	l.Lock()
	defer l.Unlock()

	m, err := t.db.LoadMission(missionID)
	if err != nil {
		return fmt.Errorf("%w: load mission %s: %v", ErrPersistence, missionID, err)
	}
	if m == nil {
		return fmt.Errorf("mission %s not found", missionID)
	}
	m.LastPublishedState = state
	m.LastPublishedRevision = revision
	if err := t.db.UpsertMission(m); err != nil {
		return fmt.Errorf("%w: upsert mission %s: %v", ErrPersistence, missionID, err)
	}
	return nil
}

// SweepStale flags open missions that have not been updated within
// staleAfter. A silently dropped mission is never auto-terminated; it is
// surfaced to the platform as stale instead. One event per newly flagged
// mission.
func (t *Tracker) SweepStale(staleAfter time.Duration) error {
	open, err := t.db.ListOpenMissions(TerminalStates())
	if err != nil {
		return fmt.Errorf("%w: list open missions: %v", ErrPersistence, err)
	}

	cutoff := time.Now().UTC().Add(-staleAfter)
	for i := range open {
		m := &open[i]
		if m.Stale || m.UpdatedAt.After(cutoff) {
			continue
		}

		l := t.lockFor(m.ID)
		l.Lock()
		cur, err := t.db.LoadMission(m.ID)
		if err != nil || cur == nil || cur.Stale || IsTerminal(cur.State) || cur.UpdatedAt.After(cutoff) {
			l.Unlock()
			continue
		}
		cur.Stale = true
		if err := t.db.UpsertMission(cur); err != nil {
			l.Unlock()
			return fmt.Errorf("%w: flag stale mission %s: %v", ErrPersistence, cur.ID, err)
		}
		snapshot := *cur
		l.Unlock()

		log.Printf("mission: %s stale (no vendor update since %s)", snapshot.ID,
			snapshot.UpdatedAt.Format(time.RFC3339))
		t.emitter.EmitMissionStale(snapshot)
	}
	return nil
}

// OpenMissions returns all non-terminal missions from the store.
func (t *Tracker) OpenMissions() ([]store.Mission, error) {
	return t.db.ListOpenMissions(TerminalStates())
}

// Prune removes terminal missions older than the retention horizon.
func (t *Tracker) Prune(retention time.Duration) (int64, error) {
	return t.db.PruneTerminalMissions(TerminalStates(), time.Now().UTC().Add(-retention))
}
