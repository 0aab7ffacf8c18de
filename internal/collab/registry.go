package collab

import "sync"

// ConnectionRegistry tracks which documents each user currently participates
// in and caps the number of distinct documents per user. Reservations are
// reference-counted per (user, document) pair so that multiple connections by
// the same user to the same document release correctly; a document already in
// the user's set never counts against the limit.
type ConnectionRegistry struct {
	mu         sync.Mutex
	maxPerUser int
	byUser     map[string]map[string]int // userID -> documentID -> reservation count
}

func NewConnectionRegistry(maxPerUser int) *ConnectionRegistry {
	return &ConnectionRegistry{
		maxPerUser: maxPerUser,
		byUser:     make(map[string]map[string]int),
	}
}

// TryReserve records a reservation for (userID, documentID). It returns false
// with no side effect when the document is not already in the user's set and
// the set is at capacity.
func (r *ConnectionRegistry) TryReserve(userID, documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, ok := r.byUser[userID]
	if !ok {
		if r.maxPerUser < 1 {
			return false
		}
		docs = make(map[string]int)
		r.byUser[userID] = docs
	} else if _, held := docs[documentID]; !held && len(docs) >= r.maxPerUser {
		return false
	}

	docs[documentID]++
	return true
}

// Release drops one reservation for (userID, documentID). The user entry is
// removed entirely once their last reservation is gone.
func (r *ConnectionRegistry) Release(userID, documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, ok := r.byUser[userID]
	if !ok {
		return
	}
	count, held := docs[documentID]
	if !held {
		return
	}
	if count > 1 {
		docs[documentID] = count - 1
		return
	}
	delete(docs, documentID)
	if len(docs) == 0 {
		delete(r.byUser, userID)
	}
}

// UserCount returns the number of distinct users holding reservations.
func (r *ConnectionRegistry) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}
