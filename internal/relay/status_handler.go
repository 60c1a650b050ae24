package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/okdaichi/overlaysync/internal/version"
)

// Status represents the health status of the relay server
type Status struct {
	Status          string    `json:"status"` // "ok" or "unhealthy"
	Connections     int       `json:"connections"`
	Timestamp       time.Time `json:"timestamp"`
	Uptime          string    `json:"uptime"`
	DocumentVersion uint64    `json:"document_version"`
	HasDocument     bool      `json:"has_document"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
	Version         string    `json:"version"`
}

// statusHandler serves /health
type statusHandler struct {
	startTime time.Time
	hub       *Hub
}

func newStatusHandler(hub *Hub) *statusHandler {
	return &statusHandler{
		startTime: time.Now(),
		hub:       hub,
	}
}

func (h *statusHandler) getStatus() Status {
	if h == nil || h.hub == nil {
		return Status{Status: "unhealthy", Timestamp: time.Now()}
	}

	_, ok := h.hub.Current()
	return Status{
		Status:          "ok",
		Connections:     h.hub.Count(),
		Timestamp:       time.Now().UTC(),
		Uptime:          time.Since(h.startTime).Round(time.Second).String(),
		DocumentVersion: h.hub.store.Version(),
		HasDocument:     ok,
		UpdatedAt:       h.hub.store.UpdatedAt().UTC(),
		Version:         version.Version(),
	}
}

// ServeHTTP implements http.Handler for the health endpoint.
//
//	?probe=live   always 200 while the process serves requests
//	?probe=ready  200 once the hub is wired, 503 otherwise
func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := h.getStatus()

	switch r.URL.Query().Get("probe") {
	case "live":
		w.WriteHeader(http.StatusOK)
		return
	case "ready":
		if status.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	statusCode := http.StatusOK
	if status.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if r.Method == http.MethodHead {
		return
	}

	json.NewEncoder(w).Encode(status)
}
