package collab

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collab-sync/internal/crdt"
)

type fakeDoc struct {
	applied [][]byte
}

func newFakeDoc() crdt.Document { return &fakeDoc{} }

func (f *fakeDoc) ApplyUpdate(update []byte) error {
	if bytes.Equal(update, []byte("bad")) {
		return errors.New("malformed fragment")
	}
	f.applied = append(f.applied, update)
	return nil
}

func (f *fakeDoc) ProduceUpdate() []byte { return nil }

func (f *fakeDoc) Snapshot() []byte { return bytes.Join(f.applied, []byte("|")) }

func (f *fakeDoc) IsEmpty() bool { return len(f.applied) == 0 }

type fakeStore struct {
	mu        sync.Mutex
	updates   map[string][][]byte
	compacted map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		updates:   make(map[string][][]byte),
		compacted: make(map[string][]byte),
	}
}

func (s *fakeStore) StoreUpdate(ctx context.Context, documentID string, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[documentID] = append(s.updates[documentID], update)
	return nil
}

func (s *fakeStore) LoadUpdates(ctx context.Context, documentID string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[documentID], nil
}

func (s *fakeStore) Compact(ctx context.Context, documentID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[documentID] = [][]byte{snapshot}
	s.compacted[documentID] = snapshot
	return nil
}

func TestDirectoryGetOrCreateReturnsSameSession(t *testing.T) {
	d := NewDirectory(newFakeDoc, nil)
	ctx := context.Background()

	s1, err := d.GetOrCreate(ctx, "doc-a")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	s2, err := d.GetOrCreate(ctx, "doc-a")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected the same session instance for the same document")
	}

	other, err := d.GetOrCreate(ctx, "doc-b")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if other == s1 {
		t.Fatal("expected a distinct session for a distinct document")
	}
}

func TestDirectoryGetOrCreateConcurrent(t *testing.T) {
	d := NewDirectory(newFakeDoc, nil)

	var wg sync.WaitGroup
	results := make([]*Session, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := d.GetOrCreate(context.Background(), "doc-a")
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		if s != results[0] {
			t.Fatal("concurrent GetOrCreate returned different sessions")
		}
	}
}

func TestDirectoryRemoveIfEmpty(t *testing.T) {
	d := NewDirectory(newFakeDoc, nil)
	ctx := context.Background()

	s, _ := d.GetOrCreate(ctx, "doc-a")
	d.RemoveIfEmpty("doc-a")

	_, sessions := d.Stats()
	if len(sessions) != 0 {
		t.Fatalf("expected session removed, got %d resident", len(sessions))
	}

	// The removed session is flagged so a racing attach cannot land on it
	if s.tryAttach(&Connection{}) {
		t.Fatal("attach to a removed session should fail")
	}

	// Removing an absent document is a no-op
	d.RemoveIfEmpty("doc-a")
}

func TestDirectorySeedsFromStore(t *testing.T) {
	store := newFakeStore()
	store.updates["doc-a"] = [][]byte{[]byte("u1"), []byte("bad"), []byte("u2")}

	d := NewDirectory(newFakeDoc, store)
	s, err := d.GetOrCreate(context.Background(), "doc-a")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	doc := s.doc.(*fakeDoc)
	if len(doc.applied) != 2 {
		t.Fatalf("expected 2 seeded updates (bad one skipped), got %d", len(doc.applied))
	}
}

func TestDirectoryCompactsOnRemoval(t *testing.T) {
	store := newFakeStore()
	store.updates["doc-a"] = [][]byte{[]byte("u1"), []byte("u2")}

	d := NewDirectory(newFakeDoc, store)
	if _, err := d.GetOrCreate(context.Background(), "doc-a"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	d.RemoveIfEmpty("doc-a")

	store.mu.Lock()
	defer store.mu.Unlock()
	if !bytes.Equal(store.compacted["doc-a"], []byte("u1|u2")) {
		t.Fatalf("expected compacted snapshot, got %q", store.compacted["doc-a"])
	}
	if len(store.updates["doc-a"]) != 1 {
		t.Fatalf("expected update log collapsed to one snapshot, got %d entries", len(store.updates["doc-a"]))
	}
}

func TestReaperRemovesIdleSessions(t *testing.T) {
	d := NewDirectory(newFakeDoc, nil)
	ctx := context.Background()

	if _, err := d.GetOrCreate(ctx, "doc-idle"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	fresh, _ := d.GetOrCreate(ctx, "doc-fresh")

	time.Sleep(20 * time.Millisecond)
	fresh.touch()

	d.reap(10 * time.Millisecond)

	_, sessions := d.Stats()
	if len(sessions) != 1 {
		t.Fatalf("expected only the fresh session to survive, got %d", len(sessions))
	}
	if sessions[0].DocumentID != "doc-fresh" {
		t.Fatalf("wrong survivor: %s", sessions[0].DocumentID)
	}

	// The reaped document starts from empty state on the next join
	again, _ := d.GetOrCreate(ctx, "doc-idle")
	if !again.doc.IsEmpty() {
		t.Fatal("reaped document should come back empty")
	}
}

func TestDirectoryShutdownIsIdempotent(t *testing.T) {
	d := NewDirectory(newFakeDoc, nil)
	if _, err := d.GetOrCreate(context.Background(), "doc-a"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	d.Shutdown()
	d.Shutdown()

	_, sessions := d.Stats()
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after shutdown, got %d", len(sessions))
	}
}
