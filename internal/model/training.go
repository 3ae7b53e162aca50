package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TrainingModule is an assignable training unit, optionally with a quiz.
// PassScore is the minimum quiz score (percent) required to mark the module
// completed; zero means attendance-only.
type TrainingModule struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Title       string          `gorm:"type:varchar(255);not null" json:"title"`
	Description string          `gorm:"type:text" json:"description"`
	Version     int             `gorm:"not null;default:1" json:"version"`
	PassScore   decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0" json:"pass_score"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
}

// Document is a controlled SOP or policy document users must read and sign off.
type Document struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Title     string         `gorm:"type:varchar(255);not null" json:"title"`
	Reference string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"reference"` // e.g. "SOP-014"
	Version   int            `gorm:"not null;default:1" json:"version"`
	ReviewDue *time.Time     `json:"review_due"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
