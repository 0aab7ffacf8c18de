package repository

import (
	"context"
	"fmt"

	"collab-sync/internal/models"

	"gorm.io/gorm"
)

// UpdateRepository stores raw document-update fragments. It backs the
// collab.UpdateStore interface when persistence is enabled; the sync server
// itself never inspects fragment contents.
type UpdateRepository struct {
	db *gorm.DB
}

func NewUpdateRepository(db *gorm.DB) *UpdateRepository {
	return &UpdateRepository{db: db}
}

// StoreUpdate appends one fragment to a document's update log.
func (r *UpdateRepository) StoreUpdate(ctx context.Context, documentID string, update []byte) error {
	record := &models.DocumentUpdate{
		DocumentID: documentID,
		Update:     update,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to store document update: %w", err)
	}
	return nil
}

// LoadUpdates returns a document's fragments in creation order. Replaying
// them into an empty replicated document reconstructs its state.
func (r *UpdateRepository) LoadUpdates(ctx context.Context, documentID string) ([][]byte, error) {
	var records []*models.DocumentUpdate
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load document updates: %w", err)
	}

	updates := make([][]byte, 0, len(records))
	for _, record := range records {
		updates = append(updates, record.Update)
	}
	return updates, nil
}

// Compact replaces a document's update log with a single snapshot fragment,
// keeping the log from growing without bound.
func (r *UpdateRepository) Compact(ctx context.Context, documentID string, snapshot []byte) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).
			Delete(&models.DocumentUpdate{}).Error; err != nil {
			return fmt.Errorf("failed to clear document updates: %w", err)
		}
		record := &models.DocumentUpdate{
			DocumentID: documentID,
			Update:     snapshot,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to store document snapshot: %w", err)
		}
		return nil
	})
}
