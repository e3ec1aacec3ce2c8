package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"fleetbridge/config"
	"fleetbridge/mission"
)

// wireMission is the REST vendor family's mission record shape.
type wireMission struct {
	ID         string            `json:"id"`
	State      string            `json:"state"`
	Revision   int64             `json:"revision"`
	Started    string            `json:"started,omitempty"`
	Finished   string            `json:"finished,omitempty"`
	Updated    string            `json:"updated,omitempty"`
	Progress   float64           `json:"progress"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type wireCommand struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	MissionID string   `json:"mission_id,omitempty"`
	Args      []string `json:"args,omitempty"`
}

// RESTAdapter talks to a REST+SSE vendor API: polled telemetry and mission
// endpoints, a command endpoint, and a server-sent-events push channel.
type RESTAdapter struct {
	cfg          *config.VendorConfig
	client       http.Client
	streamClient http.Client // no timeout, used for the long-lived event stream
}

// NewRESTAdapter creates an adapter for the REST vendor family.
func NewRESTAdapter(cfg *config.VendorConfig) *RESTAdapter {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTAdapter{
		cfg:          cfg,
		client:       http.Client{Timeout: timeout},
		streamClient: http.Client{Timeout: 0},
	}
}

func (a *RESTAdapter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}
	return req, nil
}

// FetchTelemetry polls the vendor status endpoint for one snapshot.
func (a *RESTAdapter) FetchTelemetry(ctx context.Context) (*TelemetrySnapshot, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var values map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		return nil, &ProtocolError{Detail: "decode status body", Err: err}
	}
	return &TelemetrySnapshot{Values: values, CapturedAt: time.Now().UTC()}, nil
}

// FetchMissionState polls the vendor mission list. Malformed records are
// logged and skipped; the remainder is returned.
func (a *RESTAdapter) FetchMissionState(ctx context.Context) ([]mission.Record, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/missions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var wire []wireMission
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &ProtocolError{Detail: "decode mission list", Err: err}
	}

	records := make([]mission.Record, 0, len(wire))
	for _, w := range wire {
		rec, err := translateMission(w)
		if err != nil {
			log.Printf("vendorapi: skipping mission record: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// SendCommand posts one command to the vendor. The command id doubles as an
// idempotency key so a vendor that deduplicates can be retried safely.
func (a *RESTAdapter) SendCommand(ctx context.Context, cmd Command) error {
	body, err := json.Marshal(wireCommand{
		ID:        cmd.ID,
		Kind:      cmd.Kind,
		MissionID: cmd.MissionID,
		Args:      cmd.Args,
	})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	req, err := a.newRequest(ctx, http.MethodPost, "/commands", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", cmd.ID)

	resp, err := a.client.Do(req)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// OpenEventStream connects to the vendor SSE endpoint and feeds translated
// mission records into a bounded channel until the stream drops or ctx is
// cancelled. The same records flow through the same tracker entry point as
// polled ones, so no separate deduplication is needed.
func (a *RESTAdapter) OpenEventStream(ctx context.Context) (*EventStream, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/events?types=mission-update", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, "")
	}

	records := make(chan mission.Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(records)

		reader := NewSSEReader(resp.Body)
		for {
			ev, err := reader.Next()
			if err != nil {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
				} else if err == io.EOF {
					errCh <- &UnavailableError{Err: fmt.Errorf("event stream closed")}
				} else {
					errCh <- &UnavailableError{Err: err}
				}
				return
			}
			if ev.Event != "mission-update" {
				continue
			}

			var w wireMission
			if err := json.Unmarshal([]byte(ev.Data), &w); err != nil {
				log.Printf("vendorapi: mission-update decode: %v", err)
				continue
			}
			rec, err := translateMission(w)
			if err != nil {
				log.Printf("vendorapi: skipping streamed record: %v", err)
				continue
			}

			select {
			case records <- rec:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return &EventStream{Records: records, Err: errCh}, nil
}

// translateMission maps a wire record to the canonical form. Vendors
// without a revision counter fall back to the update timestamp in unix
// milliseconds, which preserves the vendor's own ordering.
func translateMission(w wireMission) (mission.Record, error) {
	if w.ID == "" {
		return mission.Record{}, &ProtocolError{Detail: "mission record has no id"}
	}
	state := mission.Normalize(w.State)
	if state == "" {
		return mission.Record{}, &ProtocolError{Detail: fmt.Sprintf("mission %s has unmapped state %q", w.ID, w.State)}
	}

	rev := w.Revision
	if rev == 0 && w.Updated != "" {
		t, err := time.Parse(time.RFC3339, w.Updated)
		if err != nil {
			return mission.Record{}, &ProtocolError{Detail: fmt.Sprintf("mission %s has bad updated timestamp", w.ID), Err: err}
		}
		rev = t.UnixMilli()
	}

	rec := mission.Record{
		MissionID:        w.ID,
		State:            state,
		Revision:         rev,
		CompletedPercent: w.Progress,
		Attributes:       w.Attributes,
	}
	if w.Started != "" {
		if t, err := time.Parse(time.RFC3339, w.Started); err == nil {
			u := t.UTC()
			rec.StartedAt = &u
		}
	}
	if w.Finished != "" {
		if t, err := time.Parse(time.RFC3339, w.Finished); err == nil {
			u := t.UTC()
			rec.EndedAt = &u
		}
	}
	return rec, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return statusError(resp.StatusCode, string(body))
}

func statusError(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status}
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return &UnavailableError{Err: fmt.Errorf("status %d", status)}
	default:
		return &RejectedError{Status: status, Reason: body}
	}
}
