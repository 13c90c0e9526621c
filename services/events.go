package services

import "encoding/json"

const (
	EventTallyUpdated      = "tally-updated"
	EventQuestionChanged   = "question-changed"
	EventSurveyEnded       = "survey-ended"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventAnswerResult      = "answer-result"
	EventAnswerAccepted    = "answer-accepted"
	EventResponseCompleted = "response-completed"
	EventState             = "state"
	EventError             = "error"
	EventPong              = "pong"
)

// Message is the envelope of every event pushed to websocket clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is a message read from a websocket client. Payload is decoded by
// the dispatcher according to Type.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher fans events out to the subscribers of a survey.
type Publisher interface {
	Publish(surveyID uint, event string, payload interface{})
	SendToParticipant(surveyID uint, participantID string, event string, payload interface{})
}

// TallySnapshot is the tally of one question. The same value is returned by pulls
// and carried by tally-updated pushes.
type TallySnapshot struct {
	SurveyID   uint           `json:"survey_id"`
	QuestionID uint           `json:"question_id"`
	Tally      map[string]int `json:"tally"`
}

// CursorState is the question a survey is currently presenting.
type CursorState struct {
	SurveyID   uint `json:"survey_id"`
	QuestionID uint `json:"question_id"`
	Index      int  `json:"index"`
	Total      int  `json:"total"`
	Ended      bool `json:"ended,omitempty"`
}

type SurveyEnded struct {
	SurveyID uint `json:"survey_id"`
}

type AnswerResult struct {
	QuestionID uint `json:"question_id"`
	Correct    bool `json:"correct"`
}

type Presence struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	Count         int    `json:"count"`
}
