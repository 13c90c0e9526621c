package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"livesurvey/models"

	"github.com/redis/go-redis/v9"
)

const maxCodeAttempts = 10

// LifecycleController drives surveys through draft, active and inactive, and moves
// the presentation cursor of active surveys.
type LifecycleController struct {
	// mu serialises transitions. Joins hold the read side.
	mu        sync.RWMutex
	store     *SessionStore
	rdb       *redis.Client
	cursorTTL time.Duration
	pub       Publisher
}

func NewLifecycleController(store *SessionStore, rdb *redis.Client, cursorTTL time.Duration, pub Publisher) *LifecycleController {
	if cursorTTL <= 0 {
		cursorTTL = defaultPartyTTL
	}
	return &LifecycleController{store: store, rdb: rdb, cursorTTL: cursorTTL, pub: pub}
}

func cursorKey(surveyID uint) string {
	return fmt.Sprintf("survey:%d:cursor", surveyID)
}

// ownedSurvey loads a survey and checks that actorID created it.
func ownedSurvey(ctx context.Context, store *SessionStore, surveyID, actorID uint) (*models.Survey, error) {
	survey, err := store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if survey.CreatorID != actorID {
		return nil, fmt.Errorf("survey %d: %w", surveyID, ErrUnauthorized)
	}
	return survey, nil
}

// Activate opens a survey for joins and answers and locks its structure. Activating
// an active survey is a no-op. The survey must have at least one question and every
// question must carry a valid config and tally.
func (lc *LifecycleController) Activate(ctx context.Context, surveyID, actorID uint) (*models.Survey, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	survey, err := ownedSurvey(ctx, lc.store, surveyID, actorID)
	if err != nil {
		return nil, err
	}
	if survey.IsActive() {
		return survey, nil
	}
	if len(survey.Questions) == 0 {
		return nil, fmt.Errorf("%w: survey %d has no questions", ErrInvalidSurvey, surveyID)
	}
	for i := range survey.Questions {
		q := &survey.Questions[i]
		if err := ValidateQuestion(q); err != nil {
			return nil, fmt.Errorf("question %d: %w", q.ID, err)
		}
		if err := validateTally(q); err != nil {
			return nil, err
		}
	}

	changed, err := lc.store.Activate(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := lc.rdb.SetNX(ctx, cursorKey(surveyID), 0, lc.cursorTTL).Err(); err != nil {
			slog.Warn("failed to initialise cursor", "survey_id", surveyID, "error", err)
		}
		slog.Info("survey activated", "survey_id", surveyID, "code", survey.JoinCode)
	}
	return lc.store.GetSurvey(ctx, surveyID)
}

// Deactivate closes an active survey. It is idempotent and leaves drafts untouched.
func (lc *LifecycleController) Deactivate(ctx context.Context, surveyID, actorID uint) (*models.Survey, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if _, err := ownedSurvey(ctx, lc.store, surveyID, actorID); err != nil {
		return nil, err
	}
	if err := lc.deactivateLocked(ctx, surveyID); err != nil {
		return nil, err
	}
	return lc.store.GetSurvey(ctx, surveyID)
}

func (lc *LifecycleController) deactivateLocked(ctx context.Context, surveyID uint) error {
	changed, err := lc.store.Deactivate(ctx, surveyID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := lc.rdb.Del(ctx, cursorKey(surveyID)).Err(); err != nil {
		slog.Warn("failed to clear cursor", "survey_id", surveyID, "error", err)
	}
	slog.Info("survey deactivated", "survey_id", surveyID)
	lc.pub.Publish(surveyID, EventSurveyEnded, SurveyEnded{SurveyID: surveyID})
	return nil
}

// RegenerateCode gives an inactive survey a fresh join code that no active survey
// holds.
func (lc *LifecycleController) RegenerateCode(ctx context.Context, surveyID, actorID uint) (string, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	survey, err := ownedSurvey(ctx, lc.store, surveyID, actorID)
	if err != nil {
		return "", err
	}
	if survey.IsActive() {
		return "", fmt.Errorf("%w: deactivate survey %d before changing its code", ErrLocked, surveyID)
	}

	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		if code == survey.JoinCode {
			continue
		}
		taken, err := lc.store.CodeInUse(ctx, code, surveyID)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		if err := lc.store.SetJoinCode(ctx, surveyID, code); err != nil {
			return "", err
		}
		return code, nil
	}
	return "", fmt.Errorf("%w: no free code after %d attempts", ErrCodeCollision, maxCodeAttempts)
}

// Next advances the cursor. Advancing past the last question ends the survey.
func (lc *LifecycleController) Next(ctx context.Context, surveyID, actorID uint) (*CursorState, error) {
	return lc.move(ctx, surveyID, actorID, 1)
}

// Previous moves the cursor back, stopping at the first question.
func (lc *LifecycleController) Previous(ctx context.Context, surveyID, actorID uint) (*CursorState, error) {
	return lc.move(ctx, surveyID, actorID, -1)
}

func (lc *LifecycleController) move(ctx context.Context, surveyID, actorID uint, step int) (*CursorState, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	survey, err := ownedSurvey(ctx, lc.store, surveyID, actorID)
	if err != nil {
		return nil, err
	}
	if !survey.IsActive() {
		return nil, fmt.Errorf("%w: survey %d is not active", ErrSessionClosed, surveyID)
	}

	idx, err := lc.cursor(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	total := len(survey.Questions)
	idx = clampIndex(idx, total)

	next := idx + step
	if next >= total {
		if err := lc.deactivateLocked(ctx, surveyID); err != nil {
			return nil, err
		}
		state := cursorState(survey, idx)
		state.Ended = true
		return state, nil
	}
	if next < 0 {
		next = 0
	}

	if err := lc.rdb.Set(ctx, cursorKey(surveyID), next, lc.cursorTTL).Err(); err != nil {
		return nil, storageErr("set cursor", err)
	}
	state := cursorState(survey, next)
	if next != idx {
		lc.pub.Publish(surveyID, EventQuestionChanged, state)
	}
	return state, nil
}

// Cursor returns the question an active survey is presenting.
func (lc *LifecycleController) Cursor(ctx context.Context, surveyID uint) (*CursorState, error) {
	survey, err := lc.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if !survey.IsActive() {
		return nil, fmt.Errorf("%w: survey %d is not active", ErrSessionClosed, surveyID)
	}
	idx, err := lc.cursor(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	return cursorState(survey, clampIndex(idx, len(survey.Questions))), nil
}

func (lc *LifecycleController) cursor(ctx context.Context, surveyID uint) (int, error) {
	val, err := lc.rdb.Get(ctx, cursorKey(surveyID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("get cursor", err)
	}
	idx, err := strconv.Atoi(val)
	if err != nil {
		return 0, nil
	}
	return idx, nil
}

func clampIndex(idx, total int) int {
	if idx >= total {
		idx = total - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func cursorState(survey *models.Survey, idx int) *CursorState {
	state := &CursorState{
		SurveyID: survey.ID,
		Index:    idx,
		Total:    len(survey.Questions),
	}
	if idx < len(survey.Questions) {
		state.QuestionID = survey.Questions[idx].ID
	}
	return state
}
