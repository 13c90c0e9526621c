package models

import (
	"time"
)

// Question types.
const (
	TypeSingleChoice = "single-choice"
	TypeScale        = "scale"
	TypeWordCloud    = "word-cloud"
	TypeQuiz         = "quiz"
	TypeInstruction  = "instruction"
)

type Question struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SurveyID  uint      `json:"survey_id" gorm:"not null;index"`
	Position  int       `json:"position" gorm:"not null"`
	Type      string    `json:"type" gorm:"not null"`
	Text      string    `json:"text" gorm:"not null"`
	ScaleMin  int       `json:"scale_min,omitempty"`
	ScaleMax  int       `json:"scale_max,omitempty"`
	MinLabel  string    `json:"min_label,omitempty"`
	MaxLabel  string    `json:"max_label,omitempty"`
	WordLimit int       `json:"word_limit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Options []Option     `json:"options,omitempty" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
	Tally   []TallyEntry `json:"-" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// OptionByID returns the option with the given id, if it belongs to the question.
func (q *Question) OptionByID(id uint) *Option {
	for i := range q.Options {
		if q.Options[i].ID == id {
			return &q.Options[i]
		}
	}
	return nil
}
