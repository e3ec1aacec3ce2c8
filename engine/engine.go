package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetbridge/config"
	"fleetbridge/dispatch"
	"fleetbridge/health"
	"fleetbridge/mission"
	"fleetbridge/protocol"
	"fleetbridge/publish"
	"fleetbridge/session"
	"fleetbridge/store"
	"fleetbridge/vendorapi"
)

// ErrUnhealthy is returned by Run when the health monitor tripped. The
// process exits with a distinct status so the supervisor restarts it.
var ErrUnhealthy = errors.New("unhealthy threshold breached")

// ResultReporter reports command outcomes back to the platform.
type ResultReporter interface {
	PublishCommandResult(ctx context.Context, corID string, res protocol.CommandResult) error
}

// Deps are the collaborators the coordinator wires together.
type Deps struct {
	Config   *config.Config
	DB       *store.DB
	Adapter  vendorapi.Adapter
	Sink     publish.Sink
	Reporter ResultReporter // optional; nil drops command results on drain
}

// Coordinator owns the scheduling loops and the process lifecycle: start,
// resync after reconnect, drain, stop. All mission state flows through one
// tracker entry point regardless of transport.
type Coordinator struct {
	cfg        *config.Config
	db         *store.DB
	adapter    vendorapi.Adapter
	session    *session.Manager
	tracker    *mission.Tracker
	publisher  *publish.Publisher
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	reporter   ResultReporter

	Events *EventBus

	runCtx     atomic.Value // ctxBox, set when Run starts
	needResync atomic.Bool
	unhealthy  atomic.Value // string
}

// ctxBox keeps atomic.Value happy: stored values must share one concrete
// type, which bare context implementations do not.
type ctxBox struct{ ctx context.Context }

func New(d Deps) *Coordinator {
	c := &Coordinator{
		cfg:        d.Config,
		db:         d.DB,
		adapter:    d.Adapter,
		dispatcher: dispatch.New(&d.Config.Dispatch, d.DB, d.Adapter),
		monitor:    health.New(&d.Config.Health),
		reporter:   d.Reporter,
		Events:     NewEventBus(),
	}
	c.runCtx.Store(ctxBox{context.Background()})
	c.tracker = mission.NewTracker(d.DB, &missionEmitter{bus: c.Events})
	c.publisher = publish.New(d.DB, d.Sink)

	// Probe with the cheapest vendor round-trip.
	c.session = session.NewManager(d.Config.Session, func(ctx context.Context) error {
		_, err := c.adapter.FetchTelemetry(ctx)
		return err
	})
	c.session.OnReconnect(func(epoch int64) {
		c.publisher.SetEpoch(epoch)
		c.needResync.Store(true)
		c.Events.Emit(Event{Type: EventSessionConnected, Payload: SessionEvent{Epoch: epoch}})
	})
	c.session.OnDisconnect(func(err error) {
		c.Events.Emit(Event{Type: EventSessionDisconnected, Payload: SessionEvent{Error: err.Error()}})
	})

	c.wireEventHandlers()
	return c
}

func (c *Coordinator) wireEventHandlers() {
	c.Events.SubscribeTypes(func(evt Event) {
		tr := evt.Payload.(MissionTransitionEvent)
		c.publishMission(c.ctx(), tr.Mission, tr.PrevState)
	}, EventMissionTransition)

	c.Events.SubscribeTypes(func(evt Event) {
		st := evt.Payload.(MissionStaleEvent)
		c.publishMission(c.ctx(), st.Mission, st.Mission.State)
	}, EventMissionStale)
}

func (c *Coordinator) ctx() context.Context {
	return c.runCtx.Load().(ctxBox).ctx
}

// Run blocks until the context is cancelled or the health monitor trips.
// Returns nil on clean shutdown, ErrUnhealthy on a sustained breach.
func (c *Coordinator) Run(ctx context.Context) error {
	c.runCtx.Store(ctxBox{ctx})

	// Cursors persist across restarts but the epoch counter does not.
	// Seed above the highest recorded epoch so the first connect of this
	// life cannot match a cursor acked by the previous one.
	maxEpoch, err := c.db.MaxCursorEpoch()
	if err != nil {
		return fmt.Errorf("read max cursor epoch: %w", err)
	}
	c.session.SeedEpoch(maxEpoch)

	if err := c.session.Connect(ctx); err != nil {
		return fmt.Errorf("initial vendor connect: %w", err)
	}
	c.recoverStartup(ctx)

	g, gctx := errgroup.WithContext(ctx)
	c.runCtx.Store(ctxBox{gctx})

	g.Go(func() error { return c.telemetryLoop(gctx) })
	g.Go(func() error { return c.missionLoop(gctx) })
	if c.cfg.Vendor.StreamEnabled {
		g.Go(func() error { return c.streamLoop(gctx) })
	}
	g.Go(func() error { return c.pruneLoop(gctx) })
	g.Go(func() error { return c.monitor.Run(gctx) })
	g.Go(func() error { return c.watchUnhealthy(gctx) })

	err = g.Wait()
	c.drain()

	if reason, _ := c.unhealthy.Load().(string); reason != "" {
		return fmt.Errorf("%w: %s", ErrUnhealthy, reason)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// recoverStartup rebuilds from the store: missions whose revision was never
// acknowledged by the platform are republished, and commands left pending
// by the previous run are resolved against current vendor state instead of
// being assumed executed.
func (c *Coordinator) recoverStartup(ctx context.Context) {
	missions, err := c.db.ListMissions()
	if err != nil {
		log.Printf("engine: startup mission scan: %v", err)
	}
	for i := range missions {
		m := missions[i]
		if m.Revision == m.LastPublishedRevision {
			continue
		}
		log.Printf("engine: republishing mission %s (rev %d, last acked %d)",
			m.ID, m.Revision, m.LastPublishedRevision)
		c.publishMission(ctx, m, m.LastPublishedState)
	}

	pending, err := c.db.ListPendingCommands()
	if err != nil {
		log.Printf("engine: startup command scan: %v", err)
	}
	for _, cmd := range pending {
		msg := "process restarted before the vendor responded"
		if cmd.TargetMissionID != "" {
			if m, err := c.db.LoadMission(cmd.TargetMissionID); err == nil && m != nil {
				msg = fmt.Sprintf("process restarted; mission %s now %s", m.ID, m.State)
			}
		}
		res := protocol.CommandResult{CommandID: cmd.CommandID, Status: dispatch.StatusTimedOut, Message: msg}
		if c.reporter != nil {
			if err := c.reporter.PublishCommandResult(ctx, "", res); err != nil {
				log.Printf("engine: report recovered command %s: %v", cmd.CommandID, err)
				continue
			}
		}
		if err := c.db.DeletePendingCommand(cmd.CommandID); err != nil {
			log.Printf("engine: clear recovered command %s: %v", cmd.CommandID, err)
		}
	}
}

func (c *Coordinator) telemetryLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Vendor.TelemetryPollRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := c.session.EnsureConnected(ctx); err != nil {
			return err
		}
		snap, err := c.adapter.FetchTelemetry(ctx)
		if err != nil {
			c.vendorError("telemetry poll", err)
			continue
		}
		c.session.ReportSuccess()
		c.monitor.RecordVendorContact()
		c.Events.Emit(Event{Type: EventTelemetryPolled, Payload: TelemetryPolledEvent{
			Values: snap.Values, CapturedAt: snap.CapturedAt,
		}})

		_, err = c.publisher.PublishTelemetry(ctx, protocol.TelemetryReport{
			RobotID:    c.cfg.RobotID,
			Key:        "status",
			Values:     snap.Values,
			CapturedAt: snap.CapturedAt.UnixMilli(),
		})
		c.monitor.RecordPublish(err == nil)
		if err != nil {
			log.Printf("engine: publish telemetry: %v", err)
		}
	}
}

func (c *Coordinator) missionLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Vendor.MissionPollRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := c.session.EnsureConnected(ctx); err != nil {
			return err
		}
		records, err := c.adapter.FetchMissionState(ctx)
		if err != nil {
			c.vendorError("mission poll", err)
			continue
		}
		c.session.ReportSuccess()
		c.monitor.RecordVendorContact()

		for _, rec := range records {
			if _, err := c.tracker.Apply(rec); err != nil {
				c.storeError("apply mission record "+rec.MissionID, err)
			}
		}

		if c.needResync.Swap(false) {
			c.republishOpen(ctx)
		}
		if err := c.tracker.SweepStale(c.cfg.Mission.StaleAfter); err != nil {
			c.storeError("stale sweep", err)
		}
	}
}

// streamLoop keeps the vendor push channel open, feeding records into the
// same tracker entry point the polling loop uses. A stream failure degrades
// the session rather than disconnecting it, since REST may still answer.
func (c *Coordinator) streamLoop(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stream, err := c.adapter.OpenEventStream(ctx)
		if err != nil {
			c.session.ReportDegraded(err)
			c.Events.Emit(Event{Type: EventSessionDegraded, Payload: SessionEvent{Error: err.Error()}})
			attempt++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(streamBackoff(c.cfg.Session, attempt)):
			}
			continue
		}
		attempt = 0
		c.session.ReportStreamRecovered()
		log.Printf("engine: event stream open")

		if err := c.consumeStream(ctx, stream); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.session.ReportDegraded(err)
			c.Events.Emit(Event{Type: EventSessionDegraded, Payload: SessionEvent{Error: err.Error()}})
		}
	}
}

func (c *Coordinator) consumeStream(ctx context.Context, stream *vendorapi.EventStream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-stream.Records:
			if !ok {
				return fmt.Errorf("stream closed")
			}
			c.monitor.RecordVendorContact()
			if _, err := c.tracker.Apply(rec); err != nil {
				c.storeError("apply streamed record "+rec.MissionID, err)
			}
		case err := <-stream.Err:
			return err
		}
	}
}

func (c *Coordinator) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Mission.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := c.tracker.Prune(c.cfg.Mission.RetentionHorizon)
			if err != nil {
				log.Printf("engine: prune: %v", err)
			} else if n > 0 {
				log.Printf("engine: pruned %d terminal missions", n)
			}
		}
	}
}

func (c *Coordinator) watchUnhealthy(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case reason := <-c.monitor.Unhealthy():
		c.unhealthy.Store(reason)
		c.Events.Emit(Event{Type: EventUnhealthy, Payload: UnhealthyEvent{Reason: reason}})
		log.Printf("engine: unhealthy, draining: %s", reason)
		return ErrUnhealthy
	}
}

// republishOpen walks every open mission after a reconnect. The fresh epoch
// already invalidated the cursors, so each goes out exactly once even when
// its content is unchanged.
func (c *Coordinator) republishOpen(ctx context.Context) {
	open, err := c.tracker.OpenMissions()
	if err != nil {
		log.Printf("engine: resync scan: %v", err)
		return
	}
	log.Printf("engine: resync pass over %d open missions", len(open))
	for i := range open {
		c.publishMission(ctx, open[i], open[i].LastPublishedState)
	}
}

func (c *Coordinator) publishMission(ctx context.Context, m store.Mission, prevState string) {
	sent, err := c.publisher.PublishMissionEvent(ctx, missionEventFrom(c.cfg.RobotID, m, prevState))
	c.monitor.RecordPublish(err == nil)
	if err != nil {
		log.Printf("engine: publish mission %s: %v", m.ID, err)
		return
	}
	if sent {
		if err := c.tracker.MarkPublished(m.ID, m.State, m.Revision); err != nil {
			c.storeError("mark mission "+m.ID+" published", err)
		}
	}
}

// storeError logs a per-record failure or, when the durable store itself is
// broken, escalates straight to the health monitor. Correctness cannot be
// guaranteed without durable state, so there is no sustain window for it.
func (c *Coordinator) storeError(op string, err error) {
	log.Printf("engine: %s: %v", op, err)
	if errors.Is(err, mission.ErrPersistence) {
		c.monitor.ReportFatal(err.Error())
	}
}

func missionEventFrom(robotID string, m store.Mission, prevState string) protocol.MissionEvent {
	evt := protocol.MissionEvent{
		RobotID:          robotID,
		MissionID:        m.ID,
		State:            m.State,
		PrevState:        prevState,
		Revision:         m.Revision,
		Stale:            m.Stale,
		CompletedPercent: m.CompletedPercent,
		Attributes:       m.Attributes,
	}
	if m.StartedAt != nil {
		evt.StartedAt = m.StartedAt.UnixMilli()
	}
	if m.EndedAt != nil {
		evt.EndedAt = m.EndedAt.UnixMilli()
	}
	return evt
}

func (c *Coordinator) vendorError(op string, err error) {
	switch {
	case vendorapi.IsUnavailable(err), vendorapi.IsAuthError(err):
		c.session.ReportFailure(err)
	default:
		// Protocol errors skip the record; the session stays up.
		log.Printf("engine: %s: %v", op, err)
	}
}

// Execute resolves one platform command and emits its disposition. It is
// handed to the command intake as the executor.
func (c *Coordinator) Execute(ctx context.Context, req protocol.CommandRequest) protocol.CommandResult {
	res := c.dispatcher.Execute(ctx, req)
	c.Events.Emit(Event{Type: EventCommandResolved, Payload: CommandResolvedEvent{
		CommandID: res.CommandID, Kind: req.Kind, Status: res.Status,
	}})
	return res
}

// drain resolves still-pending commands as timed out and reports them, so
// the platform is not left waiting on a dead process.
func (c *Coordinator) drain() {
	results := c.dispatcher.Drain()
	if len(results) == 0 || c.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, res := range results {
		if err := c.reporter.PublishCommandResult(ctx, "", res); err != nil {
			log.Printf("engine: report drained command %s: %v", res.CommandID, err)
		}
	}
}

// ConnectionStatus reports the session state, used by heartbeats and the
// web UI.
func (c *Coordinator) ConnectionStatus() string {
	return c.session.Snapshot().Status
}

// Session returns the session manager.
func (c *Coordinator) Session() *session.Manager { return c.session }

// Monitor returns the health monitor.
func (c *Coordinator) Monitor() *health.Monitor { return c.monitor }

// Tracker returns the mission tracker.
func (c *Coordinator) Tracker() *mission.Tracker { return c.tracker }

// DB returns the database handle.
func (c *Coordinator) DB() *store.DB { return c.db }

func streamBackoff(cfg config.SessionConfig, attempt int) time.Duration {
	d := cfg.BackoffBase
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if cfg.BackoffMax > 0 && d >= cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return d
}
