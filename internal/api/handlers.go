package api

import (
	"encoding/json"
	"net/http"

	"collab-sync/internal/collab"
)

// Handler carries the collaboration subsystem dependencies for the HTTP
// surface.
type Handler struct {
	directory *collab.Directory
	registry  *collab.ConnectionRegistry
	wsHandler *collab.WebSocketHandler
	serverID  string
}

func NewHandler(directory *collab.Directory, registry *collab.ConnectionRegistry, wsHandler *collab.WebSocketHandler, serverID string) *Handler {
	return &Handler{
		directory: directory,
		registry:  registry,
		wsHandler: wsHandler,
		serverID:  serverID,
	}
}

// StatsResponse is the shape of GET /api/stats.
type StatsResponse struct {
	ServerID    string                `json:"serverId"`
	Sessions    int                   `json:"sessions"`
	Connections int                   `json:"connections"`
	Users       int                   `json:"users"`
	SessionList []collab.SessionStats `json:"sessionList"`
}

// GetStats reports resident sessions, open connections and distinct users.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	connections, sessions := h.directory.Stats()

	resp := StatsResponse{
		ServerID:    h.serverID,
		Sessions:    len(sessions),
		Connections: connections,
		Users:       h.registry.UserCount(),
		SessionList: sessions,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode stats", http.StatusInternalServerError)
	}
}

// HandleDocumentWebSocket upgrades a collaboration connection for a document.
func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleDocumentConnection(w, r)
}
