package collab

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryLimit(t *testing.T) {
	r := NewConnectionRegistry(5)

	for i := 0; i < 5; i++ {
		if !r.TryReserve("alice", fmt.Sprintf("doc-%d", i)) {
			t.Fatalf("reservation %d should succeed under the limit", i)
		}
	}

	if r.TryReserve("alice", "doc-6") {
		t.Fatal("6th distinct document should be rejected")
	}

	// A document already held is exempt from the limit
	if !r.TryReserve("alice", "doc-0") {
		t.Fatal("re-entrant reservation for a held document should succeed")
	}

	// Other users are unaffected
	if !r.TryReserve("bob", "doc-6") {
		t.Fatal("another user's first reservation should succeed")
	}
}

func TestRegistryRejectionHasNoSideEffect(t *testing.T) {
	r := NewConnectionRegistry(1)

	if !r.TryReserve("alice", "doc-a") {
		t.Fatal("first reservation should succeed")
	}
	if r.TryReserve("alice", "doc-b") {
		t.Fatal("second distinct document should be rejected")
	}

	// The rejected attempt must not have consumed anything
	r.Release("alice", "doc-a")
	if !r.TryReserve("alice", "doc-b") {
		t.Fatal("reservation should succeed after releasing the held document")
	}
}

func TestRegistryRefCountedRelease(t *testing.T) {
	r := NewConnectionRegistry(1)

	// Two connections by the same user to the same document
	if !r.TryReserve("alice", "doc-a") || !r.TryReserve("alice", "doc-a") {
		t.Fatal("both reservations for the same document should succeed")
	}

	// One connection leaves; the document is still reserved
	r.Release("alice", "doc-a")
	if r.TryReserve("alice", "doc-b") {
		t.Fatal("doc-a should still count while one reservation remains")
	}

	// Last connection leaves; the user entry is gone
	r.Release("alice", "doc-a")
	if r.UserCount() != 0 {
		t.Fatalf("expected no users after final release, got %d", r.UserCount())
	}
	if !r.TryReserve("alice", "doc-b") {
		t.Fatal("reservation should succeed after the user's last release")
	}
}

func TestRegistryReleaseUnknownIsNoop(t *testing.T) {
	r := NewConnectionRegistry(2)
	r.Release("ghost", "doc-a")

	r.TryReserve("alice", "doc-a")
	r.Release("alice", "doc-b")
	if r.UserCount() != 1 {
		t.Fatalf("expected 1 user, got %d", r.UserCount())
	}
}

func TestRegistryConcurrentReservations(t *testing.T) {
	r := NewConnectionRegistry(5)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%4)
			doc := fmt.Sprintf("doc-%d", i%3)
			if r.TryReserve(user, doc) {
				r.Release(user, doc)
			}
		}(i)
	}
	wg.Wait()

	if r.UserCount() != 0 {
		t.Fatalf("expected empty registry after all releases, got %d users", r.UserCount())
	}
}
