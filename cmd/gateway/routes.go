package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/diagnostics"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/session"
)

type deps struct {
	sessions    *session.Store
	wsHandler   http.Handler
	diagnostics *diagnostics.Store
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/call", d.wsHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/sessions", d.handleSessions)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleSessions exposes the diagnostics-safe view of active sessions
// (phase, timing, feedback counters — never transcript or audio content).
func (d deps) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.sessions.Snapshots())
}
