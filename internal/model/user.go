package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Access levels controlling what a user can do in the admin backend.
// Independent of the job Role, which drives training requirements.
const (
	AccessAdmin   = "admin"
	AccessManager = "manager"
	AccessStaff   = "staff"
)

// User represents a person in the organization. AuthID is the stable identity
// key that assignment and completion rows are keyed on. It never changes,
// even if the account is recreated after a soft delete.
type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AuthID       uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();uniqueIndex;not null" json:"auth_id"`
	FullName     string         `gorm:"type:varchar(255);not null" json:"full_name"`
	Email        string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password     string         `gorm:"type:varchar(255);not null" json:"-"`
	AccessLevel  string         `gorm:"type:varchar(50);not null;default:'staff'" json:"access_level"` // admin, manager, staff
	RoleID       *uuid.UUID     `gorm:"type:uuid;index" json:"role_id"`
	Role         *Role          `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	DepartmentID *uuid.UUID     `gorm:"type:uuid;index" json:"department_id"`
	Department   *Department    `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// RefreshToken stores long-lived tokens allowing users to request new access tokens
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Token     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
