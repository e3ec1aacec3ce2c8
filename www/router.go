package www

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleetbridge/engine"
	"fleetbridge/mission"
)

// Handlers holds dependencies for the diagnostics endpoints. The server is
// read-only: commands reach the bridge through the platform action topic,
// never through HTTP.
type Handlers struct {
	coord   *engine.Coordinator
	started time.Time
}

// NewRouter creates the chi router for the local diagnostics server.
func NewRouter(coord *engine.Coordinator) http.Handler {
	h := &Handlers{coord: coord, started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", h.handleHealthz)
	r.Get("/status", h.handleStatus)
	r.Get("/missions", h.handleMissions)
	r.Get("/missions/{missionID}", h.handleMission)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("www: encode response: %v", err)
	}
}

// handleHealthz answers 200 while thresholds hold and 503 once breached,
// so a local supervisor probe agrees with the bridge's own verdict.
func (h *Handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	hs := h.coord.Monitor().Snapshot()
	status := http.StatusOK
	if hs.Breached {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":          !hs.Breached,
		"publish_failures": hs.PublishFailures,
		"last_vendor_at":   hs.LastVendorAt,
	})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sess := h.coord.Session().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"connection":           sess.Status,
		"consecutive_failures": sess.ConsecutiveFailures,
		"last_success_at":      sess.LastSuccessAt,
		"epoch":                sess.Epoch,
		"uptime_s":             int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handlers) handleMissions(w http.ResponseWriter, r *http.Request) {
	var (
		missions any
		err      error
	)
	if r.URL.Query().Get("open") == "true" {
		missions, err = h.coord.DB().ListOpenMissions(mission.TerminalStates())
	} else {
		missions, err = h.coord.DB().ListMissions()
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, missions)
}

func (h *Handlers) handleMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "missionID")
	m, err := h.coord.DB().LoadMission(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if m == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown mission " + id})
		return
	}
	writeJSON(w, http.StatusOK, m)
}
