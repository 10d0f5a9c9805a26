package relay

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler serves the relay's HTTP surface.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a handler backed by cm.
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandlePeerConnection upgrades a peer. The optional id query parameter asks
// for a specific identifier.
func (h *WebSocketHandler) HandlePeerConnection(w http.ResponseWriter, r *http.Request) {
	requestedID := r.URL.Query().Get("id")
	if err := h.connectionManager.UpgradeConnection(w, r, requestedID); err != nil {
		// The upgrader already wrote an HTTP error.
		log.Error().Err(err).Str("requested_id", requestedID).Msg("failed to upgrade peer connection")
	}
}

// HandleStats reports connected peers and links as JSON.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write stats")
	}
}

// HandleHealth always answers OK.
func (h *WebSocketHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

// RegisterRoutes registers the relay routes with mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/peer", h.HandlePeerConnection)
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/health", h.HandleHealth)
}
