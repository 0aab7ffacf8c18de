package crdt

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// Document is the replicated structure a session owns. Merges are idempotent
// and commutative: applying the same fragment twice, or fragments in a
// different order on another replica, converges to the same logical state.
// Implementations are not safe for concurrent use; the owning session
// serializes all access.
type Document interface {
	// ApplyUpdate merges an externally produced binary update fragment.
	ApplyUpdate(update []byte) error
	// ProduceUpdate returns a fragment covering local changes since the
	// last ProduceUpdate or Snapshot call.
	ProduceUpdate() []byte
	// Snapshot returns the full serialized document state.
	Snapshot() []byte
	// IsEmpty reports whether the document has absorbed no changes yet.
	IsEmpty() bool
}

// Factory constructs the empty replicated document for a new session.
type Factory func() Document

// AutomergeDocument backs Document with an automerge CRDT.
type AutomergeDocument struct {
	doc *automerge.Doc
}

func NewAutomergeDocument() Document {
	return &AutomergeDocument{doc: automerge.New()}
}

// LoadAutomergeDocument restores a document from a stored snapshot.
func LoadAutomergeDocument(snapshot []byte) (Document, error) {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to load document snapshot: %w", err)
	}
	return &AutomergeDocument{doc: doc}, nil
}

func (d *AutomergeDocument) ApplyUpdate(update []byte) error {
	if err := d.doc.LoadIncremental(update); err != nil {
		return fmt.Errorf("failed to merge update fragment: %w", err)
	}
	return nil
}

func (d *AutomergeDocument) ProduceUpdate() []byte {
	return d.doc.SaveIncremental()
}

func (d *AutomergeDocument) Snapshot() []byte {
	return d.doc.Save()
}

func (d *AutomergeDocument) IsEmpty() bool {
	return len(d.doc.Heads()) == 0
}
