// Package statusapi serves a read-only HTTP view of a running computation:
// the hub's current snapshot and a live stream of spoke reports.
package statusapi

import (
	"encoding/json"
	"net/http"

	"spinwheel/internal/wheel"
)

type Server struct {
	hub *wheel.Hub
}

func NewServer(hub *wheel.Hub) *Server {
	return &Server{hub: hub}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/bounds/stream", s.handleBoundsStream)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": s.hub.Snapshot()})
}

func (s *Server) handleBoundsStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	reports, cancel := s.hub.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case rep, ok := <-reports:
			if !ok {
				return
			}
			b, err := json.Marshal(rep)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: bound\ndata: " + string(b) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
