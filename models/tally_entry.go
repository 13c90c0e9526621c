package models

// TallyEntry is one running count of a question's tally map.
type TallyEntry struct {
	QuestionID uint   `json:"question_id" gorm:"primaryKey;autoIncrement:false"`
	AnswerKey  string `json:"answer_key" gorm:"primaryKey;size:255"`
	Count      int    `json:"count" gorm:"not null;default:0"`
}
