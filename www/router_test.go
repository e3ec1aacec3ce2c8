package www

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleetbridge/config"
	"fleetbridge/engine"
	"fleetbridge/mission"
	"fleetbridge/protocol"
	"fleetbridge/store"
	"fleetbridge/vendorapi"
)

type noopAdapter struct{}

func (noopAdapter) FetchTelemetry(context.Context) (*vendorapi.TelemetrySnapshot, error) {
	return &vendorapi.TelemetrySnapshot{Values: map[string]any{}, CapturedAt: time.Now()}, nil
}
func (noopAdapter) FetchMissionState(context.Context) ([]mission.Record, error) { return nil, nil }
func (noopAdapter) SendCommand(context.Context, vendorapi.Command) error        { return nil }
func (noopAdapter) OpenEventStream(context.Context) (*vendorapi.EventStream, error) {
	return nil, nil
}

type noopSink struct{}

func (noopSink) PublishTelemetry(context.Context, protocol.TelemetryReport) error { return nil }
func (noopSink) PublishMissionEvent(context.Context, protocol.MissionEvent) error { return nil }
func (noopSink) PublishHeartbeat(context.Context, protocol.BridgeHeartbeat) error { return nil }

func testServer(t *testing.T) (*httptest.Server, *store.DB) {
	t.Helper()
	cfg := config.Defaults()
	cfg.RobotID = "amr-7"
	db, err := store.Open(t.TempDir() + "/www.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	coord := engine.New(engine.Deps{Config: cfg, DB: db, Adapter: noopAdapter{}, Sink: noopSink{}})
	srv := httptest.NewServer(NewRouter(coord))
	t.Cleanup(srv.Close)
	return srv, db
}

func getJSON(t *testing.T, url string, wantStatus int, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealthzHealthy(t *testing.T) {
	srv, _ := testServer(t)
	var body map[string]any
	getJSON(t, srv.URL+"/healthz", http.StatusOK, &body)
	if body["healthy"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusReportsConnection(t *testing.T) {
	srv, _ := testServer(t)
	var body map[string]any
	getJSON(t, srv.URL+"/status", http.StatusOK, &body)
	if body["connection"] != "disconnected" {
		t.Fatalf("connection = %v, want disconnected before first connect", body["connection"])
	}
}

func TestMissionEndpoints(t *testing.T) {
	srv, db := testServer(t)
	now := time.Now().UTC()
	for _, m := range []store.Mission{
		{ID: "m1", State: mission.StateExecuting, Revision: 2, LastPublishedRevision: -1, FirstSeenAt: now, UpdatedAt: now},
		{ID: "m2", State: mission.StateSucceeded, Revision: 7, LastPublishedRevision: 7, FirstSeenAt: now, UpdatedAt: now},
	} {
		m := m
		if err := db.UpsertMission(&m); err != nil {
			t.Fatal(err)
		}
	}

	var all []store.Mission
	getJSON(t, srv.URL+"/missions", http.StatusOK, &all)
	if len(all) != 2 {
		t.Fatalf("missions = %d, want 2", len(all))
	}

	var open []store.Mission
	getJSON(t, srv.URL+"/missions?open=true", http.StatusOK, &open)
	if len(open) != 1 || open[0].ID != "m1" {
		t.Fatalf("open missions = %+v", open)
	}

	var one store.Mission
	getJSON(t, srv.URL+"/missions/m2", http.StatusOK, &one)
	if one.State != mission.StateSucceeded {
		t.Fatalf("m2 state = %s", one.State)
	}

	getJSON(t, srv.URL+"/missions/ghost", http.StatusNotFound, nil)
}
