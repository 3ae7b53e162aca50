package repository

import (
	"context"

	"naranja/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CompletionRepository persists the append-only completion archive.
type CompletionRepository interface {
	ListByAuthID(ctx context.Context, authID uuid.UUID) ([]model.TrainingCompletion, error)
	// RecordIfAbsent inserts a completion record unless one already exists
	// for the same (auth_id, item_id, item_type). Records are never updated
	// or deleted; the first completion is the one that counts.
	RecordIfAbsent(ctx context.Context, record *model.TrainingCompletion) error
}

type completionRepository struct {
	db *gorm.DB
}

func NewCompletionRepository(db *gorm.DB) CompletionRepository {
	return &completionRepository{db: db}
}

func (r *completionRepository) ListByAuthID(ctx context.Context, authID uuid.UUID) ([]model.TrainingCompletion, error) {
	var rows []model.TrainingCompletion
	if err := GetDB(ctx, r.db).Where("auth_id = ?", authID).Order("completed_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *completionRepository) RecordIfAbsent(ctx context.Context, record *model.TrainingCompletion) error {
	return GetDB(ctx, r.db).
		Where("auth_id = ? AND item_id = ? AND item_type = ?", record.AuthID, record.ItemID, record.ItemType).
		FirstOrCreate(record).Error
}
