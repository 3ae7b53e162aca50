package repository

import (
	"context"

	"naranja/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SourceItem is one required item declared by a role or department source.
type SourceItem struct {
	ItemID   uuid.UUID `json:"item_id"`
	ItemType string    `json:"item_type"`
}

// AssignmentSourceRepository reads and replaces the role- and
// department-level requirement declarations.
type AssignmentSourceRepository interface {
	ListByRole(ctx context.Context, roleID uuid.UUID) ([]SourceItem, error)
	ListByDepartment(ctx context.Context, departmentID uuid.UUID) ([]SourceItem, error)
	ReplaceForRole(ctx context.Context, roleID uuid.UUID, items []SourceItem) error
	ReplaceForDepartment(ctx context.Context, departmentID uuid.UUID, items []SourceItem) error
}

type assignmentSourceRepository struct {
	db *gorm.DB
}

func NewAssignmentSourceRepository(db *gorm.DB) AssignmentSourceRepository {
	return &assignmentSourceRepository{db: db}
}

func (r *assignmentSourceRepository) ListByRole(ctx context.Context, roleID uuid.UUID) ([]SourceItem, error) {
	var rows []model.RoleAssignment
	if err := GetDB(ctx, r.db).Where("role_id = ?", roleID).Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]SourceItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, SourceItem{ItemID: row.ItemID, ItemType: row.ItemType})
	}
	return items, nil
}

func (r *assignmentSourceRepository) ListByDepartment(ctx context.Context, departmentID uuid.UUID) ([]SourceItem, error) {
	var rows []model.DepartmentAssignment
	if err := GetDB(ctx, r.db).Where("department_id = ?", departmentID).Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]SourceItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, SourceItem{ItemID: row.ItemID, ItemType: row.ItemType})
	}
	return items, nil
}

// ReplaceForRole swaps the full requirement list for a role in one statement
// pair; duplicates in the input collapse onto the unique index.
func (r *assignmentSourceRepository) ReplaceForRole(ctx context.Context, roleID uuid.UUID, items []SourceItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("role_id = ?", roleID).Delete(&model.RoleAssignment{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	rows := make([]model.RoleAssignment, 0, len(items))
	for _, item := range dedupeItems(items) {
		rows = append(rows, model.RoleAssignment{
			RoleID:   roleID,
			ItemID:   item.ItemID,
			ItemType: item.ItemType,
		})
	}
	return db.Create(&rows).Error
}

func (r *assignmentSourceRepository) ReplaceForDepartment(ctx context.Context, departmentID uuid.UUID, items []SourceItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("department_id = ?", departmentID).Delete(&model.DepartmentAssignment{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	rows := make([]model.DepartmentAssignment, 0, len(items))
	for _, item := range dedupeItems(items) {
		rows = append(rows, model.DepartmentAssignment{
			DepartmentID: departmentID,
			ItemID:       item.ItemID,
			ItemType:     item.ItemType,
		})
	}
	return db.Create(&rows).Error
}

func dedupeItems(items []SourceItem) []SourceItem {
	seen := make(map[SourceItem]bool, len(items))
	out := make([]SourceItem, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
