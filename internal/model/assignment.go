package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item types assignable as training requirements
const (
	ItemTypeModule   = "module"
	ItemTypeDocument = "document"
)

// ValidItemType reports whether t is an assignable item type
func ValidItemType(t string) bool {
	return t == ItemTypeModule || t == ItemTypeDocument
}

// RoleAssignment declares "role X requires item Y". Managed by admins,
// independent of any user.
type RoleAssignment struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RoleID    uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_role_item" json:"role_id"`
	ItemID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_role_item" json:"item_id"`
	ItemType  string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_role_item" json:"item_type"`
	CreatedAt time.Time `json:"created_at"`
}

// DepartmentAssignment declares "everyone in department X requires item Y".
type DepartmentAssignment struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DepartmentID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_dept_item" json:"department_id"`
	ItemID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_dept_item" json:"item_id"`
	ItemType     string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_dept_item" json:"item_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserAssignment is the materialized, per-user instance of a requirement.
// Keyed by AuthID so assignments survive account-row churn. The unique index
// on (auth_id, item_id, item_type) is the duplicate-prevention backstop for
// the reconciler.
type UserAssignment struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AuthID      uuid.UUID        `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_item" json:"auth_id"`
	ItemID      uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_user_item" json:"item_id"`
	ItemType    string           `gorm:"type:varchar(20);not null;uniqueIndex:idx_user_item" json:"item_type"`
	AssignedAt  time.Time        `gorm:"not null" json:"assigned_at"`
	OpenedAt    *time.Time       `json:"opened_at"`
	CompletedAt *time.Time       `json:"completed_at"`
	Score       *decimal.Decimal `gorm:"type:numeric(5,2)" json:"score"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Completed reports whether the assignment has been satisfied. A completed
// assignment is preserved, never treated as absent.
func (a UserAssignment) Completed() bool {
	return a.CompletedAt != nil
}

// TrainingCompletion is the durable, append-only record of a completion.
// It survives role changes so users never lose credit for finished training.
type TrainingCompletion struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AuthID            uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_completion_item" json:"auth_id"`
	ItemID            uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_completion_item" json:"item_id"`
	ItemType          string     `gorm:"type:varchar(20);not null;uniqueIndex:idx_completion_item" json:"item_type"`
	CompletedAt       time.Time  `gorm:"not null" json:"completed_at"`
	CompletedByRoleID *uuid.UUID `gorm:"type:uuid" json:"completed_by_role_id"`
	CreatedAt         time.Time  `json:"created_at"`
}
