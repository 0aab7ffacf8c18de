package collab

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"collab-sync/internal/crdt"
	"collab-sync/internal/models"

	"github.com/gorilla/websocket"
)

// UpdateStore persists raw update fragments so a future session for the same
// document can be seeded. A nil store keeps documents purely in-memory.
type UpdateStore interface {
	StoreUpdate(ctx context.Context, documentID string, update []byte) error
	LoadUpdates(ctx context.Context, documentID string) ([][]byte, error)
	Compact(ctx context.Context, documentID string, snapshot []byte) error
}

// Session is the live collaboration unit for one document: its replicated
// structure plus the attached connections. All mutation of the document, the
// connection set and the activity timestamp is serialized by the session
// mutex; the document is never touched outside it.
type Session struct {
	DocumentID string

	mu           sync.Mutex
	doc          crdt.Document
	conns        map[*Connection]struct{}
	lastActivity time.Time
	closed       bool

	store UpdateStore
}

func newSession(documentID string, doc crdt.Document, store UpdateStore) *Session {
	return &Session{
		DocumentID:   documentID,
		doc:          doc,
		conns:        make(map[*Connection]struct{}),
		lastActivity: time.Now(),
		store:        store,
	}
}

// tryAttach adds c to the session and announces it to existing peers. It
// returns false when the session has already been removed from the directory,
// in which case the caller must fetch a fresh session.
func (s *Session) tryAttach(c *Connection) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.conns[c] = struct{}{}
	s.lastActivity = time.Now()

	// Late joiners get the current document state as one binary frame.
	var snapshot []byte
	if !s.doc.IsEmpty() {
		snapshot = s.doc.Snapshot()
	}

	joined, _ := json.Marshal(models.Notification{
		Kind: models.KindUserJoined,
		User: &models.UserInfo{
			UserID:    c.UserID,
			UserName:  c.UserName,
			UserColor: c.UserColor,
		},
		Timestamp: time.Now().UnixMilli(),
	})
	failed := s.fanoutLocked(c, websocket.TextMessage, joined)
	s.mu.Unlock()

	if snapshot != nil {
		c.enqueue(websocket.BinaryMessage, snapshot)
	}
	s.dropPeers(failed)

	log.Printf("  %s (%s) joined document %s", c.UserName, c.UserID, s.DocumentID)
	return true
}

// detach removes c from the connection set and notifies the remaining peers.
// It returns false when c was not attached (already detached, or the session
// was torn down first).
func (s *Session) detach(c *Connection) bool {
	s.mu.Lock()
	if _, ok := s.conns[c]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.conns, c)
	s.lastActivity = time.Now()

	left, _ := json.Marshal(models.Notification{
		Kind:      models.KindUserLeft,
		UserID:    c.UserID,
		UserName:  c.UserName,
		Timestamp: time.Now().UnixMilli(),
	})
	failed := s.fanoutLocked(nil, websocket.TextMessage, left)
	remaining := len(s.conns)
	s.mu.Unlock()

	s.dropPeers(failed)

	log.Printf("  %s (%s) left document %s (remaining: %d users)",
		c.UserName, c.UserID, s.DocumentID, remaining)
	return true
}

// HandleUpdate merges an inbound update fragment into the replicated document
// and relays the raw bytes to every other connection. A fragment the document
// rejects is dropped without disturbing the session.
func (s *Session) HandleUpdate(ctx context.Context, sender *Connection, fragment []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if err := s.doc.ApplyUpdate(fragment); err != nil {
		s.mu.Unlock()
		log.Printf("⚠️  Dropping malformed update fragment for document %s: %v", s.DocumentID, err)
		return
	}
	s.lastActivity = time.Now()
	failed := s.fanoutLocked(sender, websocket.BinaryMessage, fragment)
	s.mu.Unlock()

	s.dropPeers(failed)

	if s.store != nil {
		if err := s.store.StoreUpdate(ctx, s.DocumentID, fragment); err != nil {
			log.Printf("⚠️  Failed to persist update for document %s: %v", s.DocumentID, err)
		}
	}
}

// HandleControl dispatches an inbound text frame by message kind.
func (s *Session) HandleControl(ctx context.Context, sender *Connection, raw []byte) {
	var msg models.ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("Ignoring unparseable control message on document %s: %v", s.DocumentID, err)
		return
	}

	switch msg.Kind {
	case models.KindCursorMove:
		sender.setCursor(msg.Cursor)
		s.broadcastControl(sender, models.Notification{
			Kind:      models.KindCursorMove,
			UserID:    sender.UserID,
			Cursor:    msg.Cursor,
			Timestamp: time.Now().UnixMilli(),
		})

	case models.KindSelectionChange:
		sender.setSelection(msg.Selection)
		s.broadcastControl(sender, models.Notification{
			Kind:      models.KindSelectionChange,
			UserID:    sender.UserID,
			Selection: msg.Selection,
			Timestamp: time.Now().UnixMilli(),
		})

	case models.KindPing:
		s.touch()
		pong, _ := json.Marshal(models.Notification{
			Kind:      models.KindPong,
			Timestamp: time.Now().UnixMilli(),
		})
		sender.enqueue(websocket.TextMessage, pong)

	default:
		log.Printf("Ignoring unknown control message kind %q on document %s", msg.Kind, s.DocumentID)
	}
}

// broadcastControl sends a presence notification to every connection except
// the sender.
func (s *Session) broadcastControl(sender *Connection, note models.Notification) {
	data, _ := json.Marshal(note)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastActivity = time.Now()
	failed := s.fanoutLocked(sender, websocket.TextMessage, data)
	s.mu.Unlock()

	s.dropPeers(failed)
}

// fanoutLocked enqueues one frame to every connection except skip. A peer
// whose send buffer is full is returned for removal; delivery to the
// remaining peers is unaffected. Callers must hold s.mu.
func (s *Session) fanoutLocked(skip *Connection, messageType int, data []byte) []*Connection {
	var failed []*Connection
	for c := range s.conns {
		if c == skip {
			continue
		}
		if !c.enqueue(messageType, data) {
			failed = append(failed, c)
		}
	}
	return failed
}

// dropPeers disconnects peers that could not accept a frame. Treated as an
// implicit disconnect rather than an error for the whole session.
func (s *Session) dropPeers(failed []*Connection) {
	for _, c := range failed {
		log.Printf("⚠️  Connection %s on document %s is not keeping up, disconnecting", c.ID, s.DocumentID)
		go c.detach(websocket.CloseNormalClosure, "send buffer overflow")
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// ParticipantCount returns the number of attached connections.
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// LastActivity returns the time of the last inbound message or membership
// change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// markClosedIfEmpty flags the session closed iff it has no connections, so
// the directory can remove it without racing a concurrent attach.
func (s *Session) markClosedIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if len(s.conns) > 0 {
		return false
	}
	s.closed = true
	return true
}

// close tears the session down, disconnecting any connections still attached.
// It returns how many connections were force-closed.
func (s *Session) close(code int, reason string) int {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*Connection]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		c.detach(code, reason)
	}
	return len(conns)
}

// snapshot returns the serialized document state, or nil for an empty
// document.
func (s *Session) snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.IsEmpty() {
		return nil
	}
	return s.doc.Snapshot()
}

// SessionStats is one row of the stats query.
type SessionStats struct {
	DocumentID   string  `json:"documentId"`
	Participants int     `json:"participants"`
	IdleSeconds  float64 `json:"idleSeconds"`
}

func (s *Session) stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		DocumentID:   s.DocumentID,
		Participants: len(s.conns),
		IdleSeconds:  time.Since(s.lastActivity).Seconds(),
	}
}
