package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetbridge/config"
	"fleetbridge/mission"
	"fleetbridge/protocol"
	"fleetbridge/store"
	"fleetbridge/vendorapi"
)

// Command kinds accepted from the platform.
const (
	KindDispatch  = "dispatch"
	KindPause     = "pause"
	KindResume    = "resume"
	KindCancel    = "cancel"
	KindRetry     = "retry"
	KindRunScript = "run_script"
)

// Command resolution statuses reported back to the platform.
const (
	StatusPending      = "pending"
	StatusAccepted     = "accepted"
	StatusRejected     = "rejected"
	StatusInvalidState = "invalid_state"
	StatusTimedOut     = "timed_out"
)

func knownKind(kind string) bool {
	switch kind {
	case KindDispatch, KindPause, KindResume, KindCancel, KindRetry, KindRunScript:
		return true
	}
	return false
}

// destructiveKind reports whether a command changes robot work in a way
// that would double-execute if blindly retried.
func destructiveKind(kind string) bool {
	switch kind {
	case KindDispatch, KindCancel, KindRetry, KindRunScript:
		return true
	}
	return false
}

// targetRequired reports whether the kind operates on an existing mission.
func targetRequired(kind string) bool {
	switch kind {
	case KindPause, KindResume, KindCancel, KindRetry:
		return true
	}
	return false
}

// Dispatcher validates platform commands against local mission state and
// sends them to the vendor under a bounded timeout. It never auto-retries
// destructive kinds unless the vendor deduplicates by command id.
type Dispatcher struct {
	cfg     *config.DispatchConfig
	db      *store.DB
	adapter vendorapi.Adapter

	mu       sync.Mutex
	inflight map[string]*store.PendingCommand
}

func New(cfg *config.DispatchConfig, db *store.DB, adapter vendorapi.Adapter) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		db:       db,
		adapter:  adapter,
		inflight: map[string]*store.PendingCommand{},
	}
}

// Execute runs one platform command to resolution. It always returns a
// result; transport failures surface as rejected or timed out statuses
// rather than errors, since the platform expects a terminal disposition
// per command id.
func (d *Dispatcher) Execute(ctx context.Context, req protocol.CommandRequest) protocol.CommandResult {
	if req.CommandID == "" {
		req.CommandID = uuid.NewString()
	}
	res := protocol.CommandResult{CommandID: req.CommandID}

	if !knownKind(req.Kind) {
		res.Status = StatusRejected
		res.Message = fmt.Sprintf("unknown command kind %q", req.Kind)
		return res
	}
	if targetRequired(req.Kind) && req.TargetMissionID == "" {
		res.Status = StatusRejected
		res.Message = req.Kind + " requires a target mission"
		return res
	}

	if status, msg := d.checkPrecondition(req); status != "" {
		res.Status = status
		res.Message = msg
		return res
	}

	rec := &store.PendingCommand{
		CommandID:       req.CommandID,
		Kind:            req.Kind,
		TargetMissionID: req.TargetMissionID,
		Result:          StatusPending,
		IssuedAt:        time.Now().UTC(),
	}
	d.track(rec)
	defer d.untrack(req.CommandID)

	cmd := vendorapi.Command{
		ID:        req.CommandID,
		Kind:      req.Kind,
		MissionID: req.TargetMissionID,
		Args:      req.Args,
	}

	err := d.send(ctx, cmd)
	if err == nil {
		res.Status = StatusAccepted
		return res
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Printf("dispatch: command %s (%s) timed out", cmd.ID, cmd.Kind)
		res.Status = StatusTimedOut
		res.Message = "vendor did not respond within the command timeout"
	case vendorapi.IsRejected(err):
		res.Status = StatusRejected
		res.Message = err.Error()
	case vendorapi.IsAuthError(err):
		res.Status = StatusRejected
		res.Message = "vendor authentication failed"
	default:
		res.Status = StatusRejected
		res.Message = err.Error()
	}
	return res
}

// checkPrecondition validates the command against persisted mission state.
// A terminal mission short-circuits locally without a vendor round-trip.
func (d *Dispatcher) checkPrecondition(req protocol.CommandRequest) (status, msg string) {
	if !targetRequired(req.Kind) {
		return "", ""
	}
	m, err := d.db.LoadMission(req.TargetMissionID)
	if err != nil {
		return StatusRejected, fmt.Sprintf("load mission: %v", err)
	}
	if m == nil {
		return StatusRejected, fmt.Sprintf("unknown mission %s", req.TargetMissionID)
	}

	if req.Kind == KindRetry {
		// Retry re-dispatches failed work; anything else is not retryable.
		if m.State != mission.StateFailed {
			return StatusInvalidState, fmt.Sprintf("mission %s is %s, retry requires failed", m.ID, m.State)
		}
		return "", ""
	}
	if mission.IsTerminal(m.State) {
		return StatusInvalidState, fmt.Sprintf("mission %s already %s", m.ID, m.State)
	}
	return "", ""
}

// send issues the vendor call under the configured timeout. A timed-out or
// unavailable destructive command is retried with the same id only when
// the vendor deduplicates command ids; non-destructive kinds get one free
// retry since re-sending them cannot double-execute.
func (d *Dispatcher) send(ctx context.Context, cmd vendorapi.Command) error {
	attempt := func() error {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
		defer cancel()
		return d.adapter.SendCommand(cctx, cmd)
	}

	err := attempt()
	if err == nil {
		return nil
	}
	retryable := errors.Is(err, context.DeadlineExceeded) || vendorapi.IsUnavailable(err)
	if !retryable {
		return err
	}
	if destructiveKind(cmd.Kind) && !d.cfg.IdempotentVendorIDs {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	log.Printf("dispatch: retrying command %s (%s) with same id", cmd.ID, cmd.Kind)
	return attempt()
}

func (d *Dispatcher) track(rec *store.PendingCommand) {
	d.mu.Lock()
	d.inflight[rec.CommandID] = rec
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// InflightCount reports how many commands have not yet resolved.
func (d *Dispatcher) InflightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Drain persists every still-pending command as timed out so a restart can
// re-query its real outcome from the vendor instead of assuming one.
// Returns the results to report to the platform.
func (d *Dispatcher) Drain() []protocol.CommandResult {
	d.mu.Lock()
	pending := make([]*store.PendingCommand, 0, len(d.inflight))
	for _, rec := range d.inflight {
		pending = append(pending, rec)
	}
	d.mu.Unlock()

	var results []protocol.CommandResult
	for _, rec := range pending {
		rec.Result = StatusTimedOut
		if err := d.db.SavePendingCommand(rec); err != nil {
			log.Printf("dispatch: persist pending command %s: %v", rec.CommandID, err)
		}
		results = append(results, protocol.CommandResult{
			CommandID: rec.CommandID,
			Status:    StatusTimedOut,
			Message:   "shut down before the vendor responded",
		})
	}
	return results
}
