package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"collab-sync/internal/crdt"

	"github.com/gorilla/websocket"
)

// Directory is the registry of live sessions keyed by document ID. Sessions
// are created lazily on first attach and removed when their last connection
// leaves or the idle reaper finds them expired.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	newDoc crdt.Factory
	store  UpdateStore // nil when persistence is disabled

	done     chan struct{}
	shutOnce sync.Once
}

func NewDirectory(newDoc crdt.Factory, store UpdateStore) *Directory {
	return &Directory{
		sessions: make(map[string]*Session),
		newDoc:   newDoc,
		store:    store,
		done:     make(chan struct{}),
	}
}

// GetOrCreate atomically returns the resident session for documentID or
// constructs and registers a new one, seeded from the update store when one
// is configured.
func (d *Directory) GetOrCreate(ctx context.Context, documentID string) (*Session, error) {
	d.mu.RLock()
	s, ok := d.sessions[documentID]
	d.mu.RUnlock()
	if ok {
		return s, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring the write lock
	if s, ok = d.sessions[documentID]; ok {
		return s, nil
	}

	doc := d.newDoc()
	if d.store != nil {
		updates, err := d.store.LoadUpdates(ctx, documentID)
		if err != nil {
			return nil, err
		}
		for _, update := range updates {
			if err := doc.ApplyUpdate(update); err != nil {
				log.Printf("⚠️  Skipping unreadable stored update for document %s: %v", documentID, err)
			}
		}
		if len(updates) > 0 {
			log.Printf("  Seeded document %s from %d stored updates", documentID, len(updates))
		}
	}

	s = newSession(documentID, doc, d.store)
	d.sessions[documentID] = s
	return s, nil
}

// RemoveIfEmpty deletes the session iff its connection set is empty at the
// time of the check. The emptiness check and the removal happen in the same
// critical section, so an attach racing with removal either lands first and
// keeps the session alive, or observes the closed flag and retries against a
// fresh session.
func (d *Directory) RemoveIfEmpty(documentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[documentID]
	if !ok {
		return
	}
	if !s.markClosedIfEmpty() {
		return
	}
	delete(d.sessions, documentID)
	d.compact(s)
	log.Printf("  Removed empty session for document %s", documentID)
}

// StartReaper launches the periodic sweep destroying sessions that have been
// inactive past timeout. This is a safety net; detach-triggered cleanup is
// the primary path.
func (d *Directory) StartReaper(interval, timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-d.done:
				return
			case <-ticker.C:
				d.reap(timeout)
			}
		}
	}()
}

func (d *Directory) reap(timeout time.Duration) {
	now := time.Now()

	d.mu.Lock()
	var expired []*Session
	for id, s := range d.sessions {
		if now.Sub(s.LastActivity()) > timeout {
			delete(d.sessions, id)
			expired = append(expired, s)
		}
	}
	d.mu.Unlock()

	for _, s := range expired {
		d.compact(s)
		if leaked := s.close(websocket.CloseNormalClosure, "session expired"); leaked > 0 {
			// Detach should have emptied the session long before the
			// timeout; connections here indicate a leak.
			log.Printf("⚠️  Reaped session %s with %d connections still attached", s.DocumentID, leaked)
		} else {
			log.Printf("  Reaped idle session for document %s", s.DocumentID)
		}
	}
}

// compact folds a departing session's stored update log into one snapshot.
func (d *Directory) compact(s *Session) {
	if d.store == nil {
		return
	}
	snapshot := s.snapshot()
	if snapshot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.Compact(ctx, s.DocumentID, snapshot); err != nil {
		log.Printf("⚠️  Failed to compact stored updates for document %s: %v", s.DocumentID, err)
	}
}

// Shutdown stops the reaper and destroys every resident session, closing any
// remaining connections. Safe to call more than once.
func (d *Directory) Shutdown() {
	d.shutOnce.Do(func() {
		close(d.done)

		d.mu.Lock()
		sessions := make([]*Session, 0, len(d.sessions))
		for _, s := range d.sessions {
			sessions = append(sessions, s)
		}
		d.sessions = make(map[string]*Session)
		d.mu.Unlock()

		for _, s := range sessions {
			d.compact(s)
			s.close(websocket.CloseNormalClosure, "server shutting down")
		}
		log.Printf("✓ Session directory shutdown complete (%d sessions closed)", len(sessions))
	})
}

// Stats reports the resident sessions and total open connections.
func (d *Directory) Stats() (int, []SessionStats) {
	d.mu.RLock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.RUnlock()

	connections := 0
	list := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		st := s.stats()
		connections += st.Participants
		list = append(list, st)
	}
	return connections, list
}
