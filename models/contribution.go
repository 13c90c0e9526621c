package models

import (
	"time"
)

// Contribution is a participant's current answer to one question as reflected in
// that question's tally.
type Contribution struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	ResponseID    uint      `json:"response_id" gorm:"not null;index"`
	SurveyID      uint      `json:"survey_id" gorm:"not null;index"`
	ParticipantID string    `json:"participant_id" gorm:"not null;size:64;uniqueIndex:idx_contributions_participant_question"`
	QuestionID    uint      `json:"question_id" gorm:"not null;uniqueIndex:idx_contributions_participant_question;index"`
	AnswerKey     string    `json:"answer_key" gorm:"not null;size:255"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
