package models

import (
	"time"

	"gorm.io/gorm"
)

// Survey states.
const (
	StateDraft    = "draft"
	StateActive   = "active"
	StateInactive = "inactive"
)

type Survey struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description"`
	CreatorID   uint   `json:"creator_id" gorm:"not null;index"`
	// At most one active survey may hold a code at a time.
	JoinCode    string         `json:"join_code" gorm:"size:8;not null;index;index:idx_surveys_active_code,unique,where:state = 'active'"`
	State       string         `json:"state" gorm:"not null;default:'draft'"`
	Locked      bool           `json:"locked" gorm:"not null;default:false"`
	ActivatedAt *time.Time     `json:"activated_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:SurveyID"`
}

func (s *Survey) IsActive() bool {
	return s.State == StateActive
}
