package services

import (
	"context"
	"fmt"
	"strings"

	"livesurvey/models"
)

type SurveyService struct {
	store     *SessionStore
	lifecycle *LifecycleController
	joins     *JoinCoordinator
}

func NewSurveyService(store *SessionStore, lifecycle *LifecycleController, joins *JoinCoordinator) *SurveyService {
	return &SurveyService{store: store, lifecycle: lifecycle, joins: joins}
}

type CreateSurveyRequest struct {
	Title       string                  `json:"title" binding:"required"`
	Description string                  `json:"description"`
	Questions   []CreateQuestionRequest `json:"questions"`
}

type CreateQuestionRequest struct {
	Type      string                `json:"type" binding:"required"`
	Text      string                `json:"text" binding:"required"`
	Options   []CreateOptionRequest `json:"options"`
	ScaleMin  int                   `json:"scale_min"`
	ScaleMax  int                   `json:"scale_max"`
	MinLabel  string                `json:"min_label"`
	MaxLabel  string                `json:"max_label"`
	WordLimit int                   `json:"word_limit"`
}

type CreateOptionRequest struct {
	Label     string `json:"label" binding:"required"`
	IsCorrect bool   `json:"is_correct"`
}

type UpdateSurveyRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

type ReorderRequest struct {
	QuestionIDs []uint `json:"question_ids" binding:"required"`
}

func (r *CreateQuestionRequest) toModel() *models.Question {
	q := &models.Question{
		Type:      strings.TrimSpace(r.Type),
		Text:      strings.TrimSpace(r.Text),
		ScaleMin:  r.ScaleMin,
		ScaleMax:  r.ScaleMax,
		MinLabel:  r.MinLabel,
		MaxLabel:  r.MaxLabel,
		WordLimit: r.WordLimit,
	}
	if q.Type == models.TypeWordCloud && q.WordLimit == 0 {
		q.WordLimit = defaultWordLimit
	}
	for _, o := range r.Options {
		q.Options = append(q.Options, models.Option{
			Label:     strings.TrimSpace(o.Label),
			IsCorrect: o.IsCorrect,
		})
	}
	return q
}

// CreateSurvey creates a draft survey with a fresh join code and its questions.
// Every question is validated before anything is written, and the survey is written
// with all its questions or not at all.
func (s *SurveyService) CreateSurvey(ctx context.Context, creatorID uint, req *CreateSurveyRequest) (*models.Survey, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidSurvey)
	}
	questions := make([]*models.Question, 0, len(req.Questions))
	for i := range req.Questions {
		q := req.Questions[i].toModel()
		if err := ValidateQuestion(q); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		questions = append(questions, q)
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	survey := &models.Survey{
		Title:       title,
		Description: req.Description,
		CreatorID:   creatorID,
		JoinCode:    code,
	}
	if err := s.store.CreateSurvey(ctx, survey, questions); err != nil {
		return nil, err
	}
	return s.store.GetSurvey(ctx, survey.ID)
}

func (s *SurveyService) GetUserSurveys(ctx context.Context, creatorID uint) ([]models.Survey, error) {
	return s.store.ListSurveys(ctx, creatorID)
}

func (s *SurveyService) GetSurvey(ctx context.Context, surveyID, actorID uint) (*models.Survey, error) {
	return ownedSurvey(ctx, s.store, surveyID, actorID)
}

// UpdateSurvey changes the title and description of a survey that has never been
// activated.
func (s *SurveyService) UpdateSurvey(ctx context.Context, surveyID, actorID uint, req *UpdateSurveyRequest) (*models.Survey, error) {
	if _, err := ownedSurvey(ctx, s.store, surveyID, actorID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidSurvey)
	}
	if err := s.store.UpdateContent(ctx, surveyID, title, req.Description); err != nil {
		return nil, err
	}
	return s.store.GetSurvey(ctx, surveyID)
}

// DeleteSurvey ends the survey if it is running, then removes it.
func (s *SurveyService) DeleteSurvey(ctx context.Context, surveyID, actorID uint) error {
	if _, err := s.lifecycle.Deactivate(ctx, surveyID, actorID); err != nil {
		return err
	}
	return s.store.DeleteSurvey(ctx, surveyID)
}

func (s *SurveyService) AddQuestion(ctx context.Context, surveyID, actorID uint, req *CreateQuestionRequest) (*models.Question, error) {
	if _, err := ownedSurvey(ctx, s.store, surveyID, actorID); err != nil {
		return nil, err
	}
	q := req.toModel()
	if err := ValidateQuestion(q); err != nil {
		return nil, err
	}
	if err := s.store.AddQuestion(ctx, surveyID, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *SurveyService) RemoveQuestion(ctx context.Context, surveyID, actorID, questionID uint) error {
	if _, err := ownedSurvey(ctx, s.store, surveyID, actorID); err != nil {
		return err
	}
	return s.store.RemoveQuestion(ctx, surveyID, questionID)
}

func (s *SurveyService) ReorderQuestions(ctx context.Context, surveyID, actorID uint, ids []uint) (*models.Survey, error) {
	if _, err := ownedSurvey(ctx, s.store, surveyID, actorID); err != nil {
		return nil, err
	}
	if err := s.store.ReorderQuestions(ctx, surveyID, ids); err != nil {
		return nil, err
	}
	return s.store.GetSurvey(ctx, surveyID)
}

// GetStats summarises responses to a survey, including how many participants are
// currently joined.
func (s *SurveyService) GetStats(ctx context.Context, surveyID, actorID uint) (*SurveyStats, int64, error) {
	survey, err := ownedSurvey(ctx, s.store, surveyID, actorID)
	if err != nil {
		return nil, 0, err
	}
	stats, err := s.store.Stats(ctx, survey)
	if err != nil {
		return nil, 0, err
	}
	joined, err := s.joins.ParticipantCount(ctx, surveyID)
	if err != nil {
		return nil, 0, err
	}
	return stats, joined, nil
}

// GetResponses lists the individual responses to a survey, newest first.
func (s *SurveyService) GetResponses(ctx context.Context, surveyID, actorID uint) ([]models.Response, error) {
	if _, err := ownedSurvey(ctx, s.store, surveyID, actorID); err != nil {
		return nil, err
	}
	return s.store.ListResponses(ctx, surveyID)
}

// SessionView is what participants see of a survey. Correct options are not
// revealed.
type SessionView struct {
	ID          uint           `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	State       string         `json:"state"`
	Questions   []QuestionView `json:"questions"`
}

type QuestionView struct {
	ID        uint         `json:"id"`
	Position  int          `json:"position"`
	Type      string       `json:"type"`
	Text      string       `json:"text"`
	Options   []OptionView `json:"options,omitempty"`
	ScaleMin  int          `json:"scale_min"`
	ScaleMax  int          `json:"scale_max"`
	MinLabel  string       `json:"min_label,omitempty"`
	MaxLabel  string       `json:"max_label,omitempty"`
	WordLimit int          `json:"word_limit,omitempty"`
}

type OptionView struct {
	ID    uint   `json:"id"`
	Label string `json:"label"`
}

// GetSessionView returns the participant view of an active survey.
func (s *SurveyService) GetSessionView(ctx context.Context, surveyID uint) (*SessionView, error) {
	survey, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if !survey.IsActive() {
		return nil, fmt.Errorf("%w: survey %d is not active", ErrSessionClosed, surveyID)
	}

	view := &SessionView{
		ID:          survey.ID,
		Title:       survey.Title,
		Description: survey.Description,
		State:       survey.State,
		Questions:   make([]QuestionView, 0, len(survey.Questions)),
	}
	for _, q := range survey.Questions {
		qv := QuestionView{
			ID:        q.ID,
			Position:  q.Position,
			Type:      q.Type,
			Text:      q.Text,
			WordLimit: q.WordLimit,
		}
		if q.Type == models.TypeScale {
			qv.ScaleMin, qv.ScaleMax = q.ScaleMin, q.ScaleMax
			qv.MinLabel, qv.MaxLabel = q.MinLabel, q.MaxLabel
		}
		for _, o := range q.Options {
			qv.Options = append(qv.Options, OptionView{ID: o.ID, Label: o.Label})
		}
		view.Questions = append(view.Questions, qv)
	}
	return view, nil
}
