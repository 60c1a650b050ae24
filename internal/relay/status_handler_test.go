package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewStatusHandler(t *testing.T) {
	h := newStatusHandler(NewHub(nil, nil))
	if h == nil {
		t.Fatal("newStatusHandler returned nil")
	}
	if h.startTime.IsZero() {
		t.Error("expected start time to be set")
	}
}

func TestStatusHandler_GetStatus(t *testing.T) {
	hub := NewHub(nil, nil)
	h := newStatusHandler(hub)

	status := h.getStatus()
	if status.Status != "ok" {
		t.Errorf("expected status to be ok, got %s", status.Status)
	}
	if status.Connections != 0 {
		t.Errorf("expected 0 connections, got %d", status.Connections)
	}
	if status.HasDocument {
		t.Error("expected no document")
	}
	if status.Uptime == "" {
		t.Error("expected uptime to be set")
	}
	if !status.UpdatedAt.IsZero() {
		t.Errorf("expected no update time, got %v", status.UpdatedAt)
	}

	hub.Join(newPeer(nil, "a", 1))
	if _, err := hub.Publish(context.Background(), nil, []byte(`{"text":"x"}`), "http"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	status = h.getStatus()
	if status.Connections != 1 {
		t.Errorf("expected 1 connection, got %d", status.Connections)
	}
	if !status.HasDocument {
		t.Error("expected a document")
	}
	if status.DocumentVersion != 1 {
		t.Errorf("expected document version 1, got %d", status.DocumentVersion)
	}
	if status.UpdatedAt.IsZero() {
		t.Error("expected update time once a document is stored")
	}
	if status.Version == "" {
		t.Error("expected build version in status")
	}
}

func TestStatusHandler_ServeHTTP(t *testing.T) {
	h := newStatusHandler(NewHub(nil, nil))

	// Test GET request
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status code 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	if strings.Contains(w.Body.String(), "updated_at") {
		t.Errorf("expected updated_at omitted without a document, got %s", w.Body.String())
	}

	var status Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("expected status ok, got %s", status.Status)
	}

	// Test HEAD request
	req = httptest.NewRequest(http.MethodHead, "/health", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status code 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Error("expected empty body for HEAD request")
	}

	// Test invalid method
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status code 405, got %d", w.Code)
	}
}

func TestStatusHandler_Probes(t *testing.T) {
	tests := []struct {
		name    string
		handler *statusHandler
		probe   string
		want    int
	}{
		{"live", newStatusHandler(NewHub(nil, nil)), "live", http.StatusOK},
		{"ready", newStatusHandler(NewHub(nil, nil)), "ready", http.StatusOK},
		{"live without hub", &statusHandler{}, "live", http.StatusOK},
		{"ready without hub", &statusHandler{}, "ready", http.StatusServiceUnavailable},
		{"full without hub", &statusHandler{}, "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health?probe="+tt.probe, nil)
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status code %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestStatusHandler_NilReceiver(t *testing.T) {
	var h *statusHandler

	// should not panic
	status := h.getStatus()
	if status.Status != "unhealthy" {
		t.Errorf("expected unhealthy for nil receiver, got %s", status.Status)
	}
}
