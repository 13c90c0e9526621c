package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"livesurvey/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStore is the durable record of surveys, questions, tallies and responses.
// Every multi-row write runs in a single transaction.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Migrate creates or updates the schema.
func (s *SessionStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.Survey{},
		&models.Question{},
		&models.Option{},
		&models.TallyEntry{},
		&models.Response{},
		&models.Contribution{},
	)
}

func orderedQuestions(db *gorm.DB) *gorm.DB {
	return db.Order("questions.position")
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("options.position")
}

// CreateSurvey writes a draft survey and its questions in one transaction.
func (s *SessionStore) CreateSurvey(ctx context.Context, survey *models.Survey, questions []*models.Question) error {
	survey.State = models.StateDraft
	survey.Locked = false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Questions").Create(survey).Error; err != nil {
			return err
		}
		for _, q := range questions {
			if err := insertQuestion(tx, survey.ID, q); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr("create survey", err)
}

// GetSurvey loads a survey with its questions, options and tallies in display order.
func (s *SessionStore) GetSurvey(ctx context.Context, id uint) (*models.Survey, error) {
	var survey models.Survey
	err := s.db.WithContext(ctx).
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedOptions).
		Preload("Questions.Tally").
		First(&survey, id).Error
	if err != nil {
		return nil, storageErr("get survey", err)
	}
	return &survey, nil
}

func (s *SessionStore) ListSurveys(ctx context.Context, creatorID uint) ([]models.Survey, error) {
	var surveys []models.Survey
	err := s.db.WithContext(ctx).Where("creator_id = ?", creatorID).
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedOptions).
		Order("created_at DESC").
		Find(&surveys).Error
	if err != nil {
		return nil, storageErr("list surveys", err)
	}
	return surveys, nil
}

// GetQuestion loads one question of a survey with its options.
func (s *SessionStore) GetQuestion(ctx context.Context, surveyID, questionID uint) (*models.Question, error) {
	var q models.Question
	err := s.db.WithContext(ctx).
		Where("id = ? AND survey_id = ?", questionID, surveyID).
		Preload("Options", orderedOptions).
		First(&q).Error
	if err != nil {
		return nil, storageErr("get question", err)
	}
	return &q, nil
}

// FindActiveByCode returns the active survey holding code. Inactive and unknown codes
// both yield ErrNotFound.
func (s *SessionStore) FindActiveByCode(ctx context.Context, code string) (*models.Survey, error) {
	var survey models.Survey
	err := s.db.WithContext(ctx).
		Where("join_code = ? AND state = ?", code, models.StateActive).
		First(&survey).Error
	if err != nil {
		return nil, storageErr("find survey by code", err)
	}
	return &survey, nil
}

// CodeInUse reports whether an active survey other than excludeID holds code.
func (s *SessionStore) CodeInUse(ctx context.Context, code string, excludeID uint) (bool, error) {
	return codeInUse(s.db.WithContext(ctx), code, excludeID)
}

func codeInUse(tx *gorm.DB, code string, excludeID uint) (bool, error) {
	var n int64
	err := tx.Model(&models.Survey{}).
		Where("join_code = ? AND state = ? AND id <> ?", code, models.StateActive, excludeID).
		Count(&n).Error
	if err != nil {
		return false, storageErr("check join code", err)
	}
	return n > 0, nil
}

// Activate moves a draft or inactive survey to active and locks it. It reports
// whether a transition happened; an already active survey is left untouched.
func (s *SessionStore) Activate(ctx context.Context, id uint) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var survey models.Survey
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&survey, id).Error; err != nil {
			return err
		}
		if survey.IsActive() {
			return nil
		}

		taken, err := codeInUse(tx, survey.JoinCode, survey.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", ErrCodeCollision, survey.JoinCode)
		}

		now := time.Now()
		res := tx.Model(&models.Survey{}).
			Where("id = ? AND state IN ?", id, []string{models.StateDraft, models.StateInactive}).
			Updates(map[string]interface{}{
				"state":        models.StateActive,
				"locked":       true,
				"activated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, storageErr("activate survey", err)
	}
	return changed, nil
}

// Deactivate moves an active survey to inactive, reporting whether it did.
func (s *SessionStore) Deactivate(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Survey{}).
		Where("id = ? AND state = ?", id, models.StateActive).
		Update("state", models.StateInactive)
	if res.Error != nil {
		return false, storageErr("deactivate survey", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetJoinCode replaces the code of a survey that is not active.
func (s *SessionStore) SetJoinCode(ctx context.Context, id uint, code string) error {
	res := s.db.WithContext(ctx).Model(&models.Survey{}).
		Where("id = ? AND state <> ?", id, models.StateActive).
		Update("join_code", code)
	if res.Error != nil {
		return storageErr("set join code", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set join code: %w: survey is active", ErrLocked)
	}
	return nil
}

// editUnlocked runs fn in a transaction holding the survey row, failing with
// ErrLocked once the survey has been activated.
func (s *SessionStore) editUnlocked(ctx context.Context, surveyID uint, op string, fn func(tx *gorm.DB, survey *models.Survey) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var survey models.Survey
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&survey, surveyID).Error; err != nil {
			return err
		}
		if survey.Locked {
			return fmt.Errorf("%w: survey %d has been activated", ErrLocked, surveyID)
		}
		return fn(tx, &survey)
	})
	return storageErr(op, err)
}

// UpdateContent replaces the title and description of an unlocked survey.
func (s *SessionStore) UpdateContent(ctx context.Context, surveyID uint, title, description string) error {
	return s.editUnlocked(ctx, surveyID, "update survey", func(tx *gorm.DB, survey *models.Survey) error {
		return tx.Model(survey).Updates(map[string]interface{}{
			"title":       title,
			"description": description,
		}).Error
	})
}

// AddQuestion appends a question to an unlocked survey, creating its options and its
// zero-count tally entries.
func (s *SessionStore) AddQuestion(ctx context.Context, surveyID uint, q *models.Question) error {
	return s.editUnlocked(ctx, surveyID, "add question", func(tx *gorm.DB, _ *models.Survey) error {
		return insertQuestion(tx, surveyID, q)
	})
}

// insertQuestion appends q after the survey's last question.
func insertQuestion(tx *gorm.DB, surveyID uint, q *models.Question) error {
	var maxPos struct{ Max *int }
	if err := tx.Model(&models.Question{}).Select("MAX(position) AS max").
		Where("survey_id = ?", surveyID).Scan(&maxPos).Error; err != nil {
		return err
	}
	q.SurveyID = surveyID
	q.Position = 0
	if maxPos.Max != nil {
		q.Position = *maxPos.Max + 1
	}

	options := q.Options
	q.Options = nil
	q.Tally = nil
	if err := tx.Create(q).Error; err != nil {
		return err
	}
	for i := range options {
		options[i].QuestionID = q.ID
		options[i].Position = i
	}
	if len(options) > 0 {
		if err := tx.Create(&options).Error; err != nil {
			return err
		}
	}
	q.Options = options

	keys := TallyKeys(q)
	entries := make([]models.TallyEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, models.TallyEntry{QuestionID: q.ID, AnswerKey: k})
	}
	if len(entries) > 0 {
		if err := tx.Create(&entries).Error; err != nil {
			return err
		}
	}
	q.Tally = entries
	return nil
}

// RemoveQuestion deletes a question of an unlocked survey and closes the gap in
// positions.
func (s *SessionStore) RemoveQuestion(ctx context.Context, surveyID, questionID uint) error {
	return s.editUnlocked(ctx, surveyID, "remove question", func(tx *gorm.DB, _ *models.Survey) error {
		var q models.Question
		if err := tx.Where("id = ? AND survey_id = ?", questionID, surveyID).First(&q).Error; err != nil {
			return err
		}
		if err := deleteQuestionRows(tx, []uint{q.ID}); err != nil {
			return err
		}
		return tx.Model(&models.Question{}).
			Where("survey_id = ? AND position > ?", surveyID, q.Position).
			Update("position", gorm.Expr("position - 1")).Error
	})
}

// ReorderQuestions sets question positions to the order of ids, which must name every
// question of the survey exactly once.
func (s *SessionStore) ReorderQuestions(ctx context.Context, surveyID uint, ids []uint) error {
	return s.editUnlocked(ctx, surveyID, "reorder questions", func(tx *gorm.DB, _ *models.Survey) error {
		var existing []uint
		if err := tx.Model(&models.Question{}).Where("survey_id = ?", surveyID).Pluck("id", &existing).Error; err != nil {
			return err
		}
		if len(existing) != len(ids) {
			return fmt.Errorf("%w: order names %d questions, survey has %d", ErrInvalidSurvey, len(ids), len(existing))
		}
		known := make(map[uint]bool, len(existing))
		for _, id := range existing {
			known[id] = true
		}
		for pos, id := range ids {
			if !known[id] {
				return fmt.Errorf("%w: question %d is not part of survey %d or repeats", ErrInvalidSurvey, id, surveyID)
			}
			delete(known, id)
			if err := tx.Model(&models.Question{}).Where("id = ?", id).Update("position", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteSurvey removes a survey and everything recorded against it.
func (s *SessionStore) DeleteSurvey(ctx context.Context, surveyID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.Question{}).Where("survey_id = ?", surveyID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if err := deleteQuestionRows(tx, ids); err != nil {
			return err
		}
		if err := tx.Where("survey_id = ?", surveyID).Delete(&models.Response{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Survey{}).Where("id = ?", surveyID).
			Update("state", models.StateInactive).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Survey{}, surveyID).Error
	})
	return storageErr("delete survey", err)
}

func deleteQuestionRows(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("question_id IN ?", ids).Delete(&models.Contribution{}).Error; err != nil {
		return err
	}
	if err := tx.Where("question_id IN ?", ids).Delete(&models.TallyEntry{}).Error; err != nil {
		return err
	}
	if err := tx.Where("question_id IN ?", ids).Delete(&models.Option{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&models.Question{}).Error
}

// ContributionInput is one participant's resolved answer to a question.
type ContributionInput struct {
	SurveyID      uint
	QuestionID    uint
	QuestionType  string
	ParticipantID string
	Nickname      string
	Key           string
}

// ApplyContribution replaces the participant's previous contribution to the question
// with in.Key: the old tally key is decremented, the new one incremented and the
// contribution recorded, all in one transaction. It fails with ErrSessionClosed if the
// survey is no longer active, and reports false when the key is unchanged.
func (s *SessionStore) ApplyContribution(ctx context.Context, in ContributionInput) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Share lock: deactivation waits for in-flight writes to finish.
		var survey models.Survey
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "state").First(&survey, in.SurveyID).Error; err != nil {
			return err
		}
		if !survey.IsActive() {
			return fmt.Errorf("%w: survey %d is not active", ErrSessionClosed, in.SurveyID)
		}

		resp, err := ensureResponse(tx, in)
		if err != nil {
			return err
		}

		var prev models.Contribution
		err = tx.Where("participant_id = ? AND question_id = ?", in.ParticipantID, in.QuestionID).First(&prev).Error
		hasPrev := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if hasPrev && prev.AnswerKey == in.Key {
			return nil
		}

		if hasPrev {
			if err := decrementTally(tx, in.QuestionID, prev.AnswerKey, in.QuestionType == models.TypeWordCloud); err != nil {
				return err
			}
		}
		if err := incrementTally(tx, in.QuestionID, in.Key); err != nil {
			return err
		}

		if hasPrev {
			err = tx.Model(&prev).Update("answer_key", in.Key).Error
		} else {
			err = tx.Create(&models.Contribution{
				ResponseID:    resp.ID,
				SurveyID:      in.SurveyID,
				ParticipantID: in.ParticipantID,
				QuestionID:    in.QuestionID,
				AnswerKey:     in.Key,
			}).Error
		}
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, storageErr("apply contribution", err)
	}
	return changed, nil
}

func ensureResponse(tx *gorm.DB, in ContributionInput) (*models.Response, error) {
	var resp models.Response
	err := tx.Where("survey_id = ? AND participant_id = ?", in.SurveyID, in.ParticipantID).First(&resp).Error
	if err == nil {
		return &resp, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	// A concurrent first answer from the same participant may insert the row
	// between the lookup and the insert; keep whichever row won.
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "survey_id"}, {Name: "participant_id"}},
		DoNothing: true,
	}).Create(&models.Response{
		SurveyID:      in.SurveyID,
		ParticipantID: in.ParticipantID,
		Nickname:      in.Nickname,
		StartedAt:     time.Now(),
	}).Error
	if err != nil {
		return nil, err
	}
	var created models.Response
	if err := tx.Where("survey_id = ? AND participant_id = ?", in.SurveyID, in.ParticipantID).First(&created).Error; err != nil {
		return nil, err
	}
	return &created, nil
}

func incrementTally(tx *gorm.DB, questionID uint, key string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "question_id"}, {Name: "answer_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("tally_entries.count + 1")}),
	}).Create(&models.TallyEntry{QuestionID: questionID, AnswerKey: key, Count: 1}).Error
}

func decrementTally(tx *gorm.DB, questionID uint, key string, dropEmpty bool) error {
	res := tx.Model(&models.TallyEntry{}).
		Where("question_id = ? AND answer_key = ? AND count > 0", questionID, key).
		Update("count", gorm.Expr("count - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		slog.Warn("tally entry missing for previous contribution", "question_id", questionID, "key", key)
	}
	if dropEmpty {
		return tx.Where("question_id = ? AND answer_key = ? AND count <= 0", questionID, key).
			Delete(&models.TallyEntry{}).Error
	}
	return nil
}

// Tally returns the current tally of a question.
func (s *SessionStore) Tally(ctx context.Context, questionID uint) (map[string]int, error) {
	var entries []models.TallyEntry
	if err := s.db.WithContext(ctx).Where("question_id = ?", questionID).Find(&entries).Error; err != nil {
		return nil, storageErr("load tally", err)
	}
	tally := make(map[string]int, len(entries))
	for _, e := range entries {
		tally[e.AnswerKey] = e.Count
	}
	return tally, nil
}

// RebuildTally recomputes a question's tally from its contributions and overwrites
// the stored entries. It returns the recomputed tally.
func (s *SessionStore) RebuildTally(ctx context.Context, q *models.Question) (map[string]int, error) {
	tally := make(map[string]int)
	for _, k := range TallyKeys(q) {
		tally[k] = 0
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []struct {
			AnswerKey string
			N         int
		}
		if err := tx.Model(&models.Contribution{}).
			Select("answer_key, COUNT(*) AS n").
			Where("question_id = ?", q.ID).
			Group("answer_key").
			Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			tally[r.AnswerKey] = r.N
		}

		if err := tx.Where("question_id = ?", q.ID).Delete(&models.TallyEntry{}).Error; err != nil {
			return err
		}
		entries := make([]models.TallyEntry, 0, len(tally))
		for k, n := range tally {
			entries = append(entries, models.TallyEntry{QuestionID: q.ID, AnswerKey: k, Count: n})
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.Create(&entries).Error
	})
	if err != nil {
		return nil, storageErr("rebuild tally", err)
	}
	return tally, nil
}

// CompleteResponse marks a participant's response as completed, creating it if the
// participant never answered. Completing twice keeps the first completion time.
func (s *SessionStore) CompleteResponse(ctx context.Context, surveyID uint, participantID, nickname string) (*models.Response, error) {
	var resp *models.Response
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		resp, err = ensureResponse(tx, ContributionInput{
			SurveyID:      surveyID,
			ParticipantID: participantID,
			Nickname:      nickname,
		})
		if err != nil {
			return err
		}
		if resp.Completed {
			return nil
		}
		now := time.Now()
		resp.Completed = true
		resp.CompletedAt = &now
		return tx.Model(resp).Updates(map[string]interface{}{
			"completed":    true,
			"completed_at": now,
		}).Error
	})
	if err != nil {
		return nil, storageErr("complete response", err)
	}
	return resp, nil
}

// GetResponse loads a participant's response with its contributions.
func (s *SessionStore) GetResponse(ctx context.Context, surveyID uint, participantID string) (*models.Response, error) {
	var resp models.Response
	err := s.db.WithContext(ctx).
		Where("survey_id = ? AND participant_id = ?", surveyID, participantID).
		Preload("Contributions").
		First(&resp).Error
	if err != nil {
		return nil, storageErr("get response", err)
	}
	return &resp, nil
}

// ListResponses returns every response to a survey with its contributions, newest
// first.
func (s *SessionStore) ListResponses(ctx context.Context, surveyID uint) ([]models.Response, error) {
	var responses []models.Response
	err := s.db.WithContext(ctx).
		Where("survey_id = ?", surveyID).
		Preload("Contributions").
		Order("created_at DESC").
		Order("id DESC").
		Find(&responses).Error
	if err != nil {
		return nil, storageErr("list responses", err)
	}
	return responses, nil
}

// SurveyStats summarises participation in a survey.
type SurveyStats struct {
	SurveyID           uint            `json:"survey_id"`
	TotalResponses     int             `json:"total_responses"`
	CompletedResponses int             `json:"completed_responses"`
	CompletionRate     int             `json:"completion_rate"`
	AverageTime        string          `json:"average_time"`
	Questions          []QuestionStats `json:"questions"`
}

type QuestionStats struct {
	ID            uint   `json:"id"`
	Text          string `json:"text"`
	Type          string `json:"type"`
	ResponseCount int    `json:"response_count"`
}

func (s *SessionStore) Stats(ctx context.Context, survey *models.Survey) (*SurveyStats, error) {
	db := s.db.WithContext(ctx)

	var responses []models.Response
	if err := db.Where("survey_id = ?", survey.ID).Find(&responses).Error; err != nil {
		return nil, storageErr("load responses", err)
	}

	var counts []struct {
		QuestionID uint
		N          int
	}
	if err := db.Model(&models.Contribution{}).
		Select("question_id, COUNT(*) AS n").
		Where("survey_id = ?", survey.ID).
		Group("question_id").
		Scan(&counts).Error; err != nil {
		return nil, storageErr("count contributions", err)
	}
	perQuestion := make(map[uint]int, len(counts))
	for _, c := range counts {
		perQuestion[c.QuestionID] = c.N
	}

	stats := &SurveyStats{
		SurveyID:       survey.ID,
		TotalResponses: len(responses),
		Questions:      make([]QuestionStats, 0, len(survey.Questions)),
	}
	var total time.Duration
	for _, r := range responses {
		if !r.Completed {
			continue
		}
		stats.CompletedResponses++
		if r.CompletedAt != nil {
			total += r.CompletedAt.Sub(r.StartedAt)
		}
	}
	if stats.TotalResponses > 0 {
		stats.CompletionRate = stats.CompletedResponses * 100 / stats.TotalResponses
	}
	var avg time.Duration
	if stats.CompletedResponses > 0 {
		avg = total / time.Duration(stats.CompletedResponses)
	}
	stats.AverageTime = formatMinutes(avg)

	for _, q := range survey.Questions {
		stats.Questions = append(stats.Questions, QuestionStats{
			ID:            q.ID,
			Text:          q.Text,
			Type:          q.Type,
			ResponseCount: perQuestion[q.ID],
		})
	}
	return stats, nil
}

func formatMinutes(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
