package models

import (
	"time"
)

type Option struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	QuestionID uint      `json:"question_id" gorm:"not null;index"`
	Label      string    `json:"label" gorm:"not null"`
	IsCorrect  bool      `json:"is_correct,omitempty" gorm:"not null;default:false"`
	Position   int       `json:"position" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
