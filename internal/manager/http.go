package manager

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"swarmsite/internal/protocol"
	"swarmsite/internal/swarm"
)

// Handler serves the control API used to pick which site is loaded.
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/load", m.handleLoad)
	mux.HandleFunc("POST /api/unload", func(w http.ResponseWriter, r *http.Request) {
		m.Unload(r.Context())
		writeJSON(w, http.StatusOK, m.Status())
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Status())
	})
	mux.HandleFunc("POST /api/cache/clear", func(w http.ResponseWriter, r *http.Request) {
		m.ClearCache()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (m *Manager) handleLoad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	err := m.BeginLoad(r.Context(), body.Hash)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, m.Status())
	case errors.Is(err, protocol.ErrInvalidHash):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, swarm.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		log.Printf("manager: load %q: %v", body.Hash, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
