package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"collab-sync/internal/middleware"
	"collab-sync/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type frame struct {
	messageType int
	data        []byte
}

// Connection is one attached client. It is owned by exactly one session from
// attach until detach; detach is idempotent against close, transport error
// and server shutdown arriving in any order.
type Connection struct {
	ID        string
	UserID    string
	UserName  string
	UserColor string

	ws   *websocket.Conn
	send chan frame

	sendMu     sync.Mutex
	sendClosed bool

	presMu    sync.Mutex
	cursor    *models.CursorPosition
	selection *models.SelectionRange

	session   *Session
	registry  *ConnectionRegistry
	directory *Directory

	detachOnce sync.Once
}

// enqueue queues one outbound frame without blocking. It returns false when
// the buffer is full or the connection is already going away.
func (c *Connection) enqueue(messageType int, data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- frame{messageType: messageType, data: data}:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
	c.sendMu.Unlock()
}

func (c *Connection) setCursor(cursor *models.CursorPosition) {
	c.presMu.Lock()
	c.cursor = cursor
	c.presMu.Unlock()
}

func (c *Connection) setSelection(selection *models.SelectionRange) {
	c.presMu.Lock()
	c.selection = selection
	c.presMu.Unlock()
}

// detach runs the full teardown exactly once: close frame to the client,
// removal from the session, registry release, empty-session cleanup.
func (c *Connection) detach(code int, reason string) {
	c.detachOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))

		c.session.detach(c)
		c.closeSend()
		c.registry.Release(c.UserID, c.session.DocumentID)
		c.directory.RemoveIfEmpty(c.session.DocumentID)
		_ = c.ws.Close()
	})
}

// readPump reads frames from the client until the connection drops. Binary
// frames are document-update fragments; text frames are control messages.
func (c *Connection) readPump(ctx context.Context, maxMessageBytes int64) {
	defer c.detach(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on connection %s: %v", c.ID, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msgCtx, span := middleware.StartSpan(ctx, "WebSocket.ProcessMessage",
			attribute.String("connection.id", c.ID),
			attribute.String("document.id", c.session.DocumentID),
			attribute.Int("message.size", len(message)),
		)
		switch messageType {
		case websocket.BinaryMessage:
			c.session.HandleUpdate(msgCtx, c, message)
		case websocket.TextMessage:
			c.session.HandleControl(msgCtx, c, message)
		}
		span.End()
	}
}

// writePump drains the send buffer to the socket and keeps the connection
// alive with periodic pings. One writer goroutine per connection; a slow
// client stalls only itself.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := c.ws.WriteMessage(f.messageType, f.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
