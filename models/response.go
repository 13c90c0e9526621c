package models

import (
	"time"
)

type Response struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	SurveyID      uint       `json:"survey_id" gorm:"not null;uniqueIndex:idx_responses_survey_participant"`
	ParticipantID string     `json:"participant_id" gorm:"not null;size:64;uniqueIndex:idx_responses_survey_participant"`
	Nickname      string     `json:"nickname"`
	Completed     bool       `json:"completed" gorm:"not null;default:false"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Relationships
	Contributions []Contribution `json:"contributions,omitempty" gorm:"foreignKey:ResponseID"`
}
