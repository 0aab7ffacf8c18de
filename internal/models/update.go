package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// DocumentUpdate stores one raw CRDT update fragment. Replaying a document's
// fragments in creation order reconstructs its replicated state; a compacted
// snapshot is stored as a single fragment.
type DocumentUpdate struct {
	ID         string    `gorm:"type:varchar(27);primaryKey" json:"id"`
	DocumentID string    `gorm:"type:varchar(128);not null;index:idx_doc_time" json:"document_id"`
	Update     []byte    `gorm:"type:bytea;not null" json:"-"`
	CreatedAt  time.Time `gorm:"index:idx_doc_time" json:"created_at"`
}

// BeforeCreate generates KSUID
func (u *DocumentUpdate) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (DocumentUpdate) TableName() string {
	return "document_updates"
}
