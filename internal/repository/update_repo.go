package repository

import (
	"context"
	"fmt"

	"blueprint-sync/internal/models"

	"gorm.io/gorm"
)

/*
LEARNING: CRDT UPDATE PERSISTENCE

Storing document updates allows:
1. A reopened document to converge to its last known state before any peer answers
2. The relay to hand late joiners the state of a room with nobody else online
3. Conflict-free merging of offline changes

Query patterns:
- GetAllUpdates: Initial replay (get everything)
- StoreUpdate: Persist changes
- ReplaceUpdates: Compaction (swap the log for one merged update)
*/

// UpdateRepositoryImpl handles CRDT update storage
type UpdateRepositoryImpl struct {
	db *gorm.DB
}

// NewUpdateRepository creates a new update repository
func NewUpdateRepository(db *gorm.DB) *UpdateRepositoryImpl {
	return &UpdateRepositoryImpl{db: db}
}

// StoreUpdate appends an update to a document's log
func (r *UpdateRepositoryImpl) StoreUpdate(ctx context.Context, documentID string, update []byte, clientID string) error {
	row := &models.DocumentUpdate{
		DocumentID: documentID,
		Update:     update,
		ClientID:   clientID,
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to store update: %w", err)
	}

	return nil
}

// GetAllUpdates retrieves all updates for a document
// Used for initial replay
func (r *UpdateRepositoryImpl) GetAllUpdates(ctx context.Context, documentID string) ([]*models.DocumentUpdate, error) {
	var updates []*models.DocumentUpdate

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&updates).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}

	return updates, nil
}

// CountUpdates returns the length of a document's log
func (r *UpdateRepositoryImpl) CountUpdates(ctx context.Context, documentID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.DocumentUpdate{}).
		Where("document_id = ?", documentID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count updates: %w", err)
	}
	return count, nil
}

// ReplaceUpdates swaps a document's whole log for a single merged update
// Call periodically to prevent unbounded growth
func (r *UpdateRepositoryImpl) ReplaceUpdates(ctx context.Context, documentID string, merged []byte, clientID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&models.DocumentUpdate{}).Error; err != nil {
			return fmt.Errorf("failed to delete old updates: %w", err)
		}
		row := &models.DocumentUpdate{
			DocumentID: documentID,
			Update:     merged,
			ClientID:   clientID,
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to store merged update: %w", err)
		}
		return nil
	})
}

// DeleteUpdates forgets a document entirely
func (r *UpdateRepositoryImpl) DeleteUpdates(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&models.DocumentUpdate{}).Error; err != nil {
		return fmt.Errorf("failed to delete updates: %w", err)
	}
	return nil
}
