package repository

import (
	"context"
	"time"

	"naranja/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UserAssignmentRepository owns all writes to user_assignments. No other
// component writes these rows directly; every mutation flows through the
// reconciler or the open/complete tracking calls.
type UserAssignmentRepository interface {
	ListByAuthID(ctx context.Context, authID uuid.UUID) ([]model.UserAssignment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.UserAssignment, error)
	Insert(ctx context.Context, rows []model.UserAssignment) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
	MarkOpened(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time, score *decimal.Decimal) error
}

type userAssignmentRepository struct {
	db *gorm.DB
}

func NewUserAssignmentRepository(db *gorm.DB) UserAssignmentRepository {
	return &userAssignmentRepository{db: db}
}

func (r *userAssignmentRepository) ListByAuthID(ctx context.Context, authID uuid.UUID) ([]model.UserAssignment, error) {
	var rows []model.UserAssignment
	if err := GetDB(ctx, r.db).Where("auth_id = ?", authID).Order("assigned_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *userAssignmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.UserAssignment, error) {
	var row model.UserAssignment
	if err := GetDB(ctx, r.db).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *userAssignmentRepository) Insert(ctx context.Context, rows []model.UserAssignment) error {
	if len(rows) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Create(&rows).Error
}

func (r *userAssignmentRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.UserAssignment{}).Error
}

func (r *userAssignmentRepository) MarkOpened(ctx context.Context, id uuid.UUID, at time.Time) error {
	// Only the first open is recorded
	return GetDB(ctx, r.db).Model(&model.UserAssignment{}).
		Where("id = ? AND opened_at IS NULL", id).
		Update("opened_at", at).Error
}

func (r *userAssignmentRepository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time, score *decimal.Decimal) error {
	return GetDB(ctx, r.db).Model(&model.UserAssignment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"completed_at": at,
			"score":        score,
		}).Error
}
