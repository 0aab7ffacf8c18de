package collab

import (
	"context"
	"log"
	"net/http"
	"time"

	"collab-sync/internal/config"
	"collab-sync/internal/middleware"
	"collab-sync/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin against an allowlist once the frontend origin is fixed
		return true
	},
}

// WebSocketHandler upgrades document collaboration connections and walks them
// through the attach state machine: handshake validation, registry
// reservation, session attach.
type WebSocketHandler struct {
	directory *Directory
	registry  *ConnectionRegistry
	cfg       *config.Config
}

func NewWebSocketHandler(directory *Directory, registry *ConnectionRegistry, cfg *config.Config) *WebSocketHandler {
	return &WebSocketHandler{
		directory: directory,
		registry:  registry,
		cfg:       cfg,
	}
}

// HandleDocumentConnection serves GET /ws/documents/{id}. Identity comes from
// query parameters: userId required, userName and userColor optional.
func (h *WebSocketHandler) HandleDocumentConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := mux.Vars(r)["id"]

	query := r.URL.Query()
	userID := query.Get("userId")
	userName := query.Get("userName")
	userColor := query.Get("userColor")

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("document.id", documentID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	if documentID == "" || userID == "" {
		rejectConnection(ws, websocket.ClosePolicyViolation, "documentId and userId are required")
		return
	}
	if userName == "" {
		userName = "Anonymous"
	}
	if userColor == "" {
		userColor = models.ColorForUser(userID)
	}

	if !h.registry.TryReserve(userID, documentID) {
		rejectConnection(ws, websocket.CloseTryAgainLater, "per-user session limit reached")
		return
	}

	c := &Connection{
		ID:        ksuid.New().String(),
		UserID:    userID,
		UserName:  userName,
		UserColor: userColor,
		ws:        ws,
		send:      make(chan frame, h.cfg.SendBufferSize),
		registry:  h.registry,
		directory: h.directory,
	}

	// A session flagged for removal between lookup and attach is gone from
	// the directory already, so retrying always lands on a fresh one.
	for {
		session, err := h.directory.GetOrCreate(ctx, documentID)
		if err != nil {
			log.Printf("⚠️  Failed to open session for document %s: %v", documentID, err)
			middleware.AddSpanError(ctx, err)
			h.registry.Release(userID, documentID)
			rejectConnection(ws, websocket.CloseInternalServerErr, "failed to open session")
			return
		}
		c.session = session
		if session.tryAttach(c) {
			break
		}
	}

	// The request context is canceled when this handler returns; the pumps
	// outlive it but keep the trace linkage.
	connCtx := context.WithoutCancel(ctx)
	go c.writePump()
	go c.readPump(connCtx, h.cfg.MaxMessageBytes)
}

// rejectConnection closes a never-attached connection with a close code the
// client can act on.
func rejectConnection(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
}
