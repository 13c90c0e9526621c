package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"livesurvey/models"
)

type questionKey struct {
	surveyID   uint
	questionID uint
}

type refLock struct {
	sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per question, dropping it when no caller holds or
// waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[questionKey]*refLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[questionKey]*refLock)}
}

func (k *keyedMutex) Lock(key questionKey) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// SubmitResult is the outcome of a submission. Correct is set for quiz questions.
type SubmitResult struct {
	Snapshot TallySnapshot `json:"snapshot"`
	Correct  *bool         `json:"correct,omitempty"`
}

// AggregationEngine applies participant answers to question tallies and publishes
// the resulting snapshots.
type AggregationEngine struct {
	store *SessionStore
	joins *JoinCoordinator
	pub   Publisher
	locks *keyedMutex
}

func NewAggregationEngine(store *SessionStore, joins *JoinCoordinator, pub Publisher) *AggregationEngine {
	return &AggregationEngine{
		store: store,
		joins: joins,
		pub:   pub,
		locks: newKeyedMutex(),
	}
}

// SubmitAnswer records a participant's answer to a question, replacing any earlier
// answer of theirs to the same question. Submissions to one question are applied one
// at a time, and each snapshot is published before the next submission starts, so
// subscribers see tallies in commit order.
func (e *AggregationEngine) SubmitAnswer(ctx context.Context, surveyID uint, participantID string, questionID uint, answer Answer) (*SubmitResult, error) {
	p, err := e.joins.Participant(ctx, surveyID, participantID)
	if err != nil {
		return nil, err
	}
	q, err := e.store.GetQuestion(ctx, surveyID, questionID)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveAnswer(q, answer)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(questionKey{surveyID, questionID})
	defer unlock()

	changed, err := e.store.ApplyContribution(ctx, ContributionInput{
		SurveyID:      surveyID,
		QuestionID:    questionID,
		QuestionType:  q.Type,
		ParticipantID: p.ID,
		Nickname:      p.Nickname,
		Key:           resolved.Key,
	})
	if err != nil {
		return nil, err
	}

	snap, err := e.snapshot(ctx, surveyID, q)
	if err != nil {
		return nil, err
	}
	if changed {
		e.pub.Publish(surveyID, EventTallyUpdated, snap)
	}
	if resolved.Correct != nil {
		e.pub.SendToParticipant(surveyID, p.ID, EventAnswerResult, AnswerResult{
			QuestionID: questionID,
			Correct:    *resolved.Correct,
		})
	}

	return &SubmitResult{Snapshot: snap, Correct: resolved.Correct}, nil
}

// Snapshot returns the current tally of a question.
func (e *AggregationEngine) Snapshot(ctx context.Context, surveyID, questionID uint) (TallySnapshot, error) {
	q, err := e.store.GetQuestion(ctx, surveyID, questionID)
	if err != nil {
		return TallySnapshot{}, err
	}
	return e.snapshot(ctx, surveyID, q)
}

func (e *AggregationEngine) snapshot(ctx context.Context, surveyID uint, q *models.Question) (TallySnapshot, error) {
	tally, err := e.store.Tally(ctx, q.ID)
	if err != nil {
		return TallySnapshot{}, err
	}
	return TallySnapshot{SurveyID: surveyID, QuestionID: q.ID, Tally: tally}, nil
}

// Recompute rebuilds a question's tally from the stored contributions. A mismatch
// with the stored tally is logged and the recomputed tally replaces it.
func (e *AggregationEngine) Recompute(ctx context.Context, surveyID, questionID uint) (TallySnapshot, error) {
	q, err := e.store.GetQuestion(ctx, surveyID, questionID)
	if err != nil {
		return TallySnapshot{}, err
	}

	unlock := e.locks.Lock(questionKey{surveyID, questionID})
	defer unlock()

	before, err := e.store.Tally(ctx, q.ID)
	if err != nil {
		return TallySnapshot{}, err
	}
	tally, err := e.store.RebuildTally(ctx, q)
	if err != nil {
		return TallySnapshot{}, err
	}
	if !sameTally(before, tally) {
		slog.Warn("tally drift repaired", "survey_id", surveyID, "question_id", questionID,
			"stored", fmt.Sprint(before), "recomputed", fmt.Sprint(tally))
		snap := TallySnapshot{SurveyID: surveyID, QuestionID: q.ID, Tally: tally}
		e.pub.Publish(surveyID, EventTallyUpdated, snap)
	}
	return TallySnapshot{SurveyID: surveyID, QuestionID: q.ID, Tally: tally}, nil
}

func sameTally(a, b map[string]int) bool {
	for k, v := range a {
		if v != 0 && b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if v != 0 && a[k] != v {
			return false
		}
	}
	return true
}

// CompleteResponse marks a participant's response as finished.
func (e *AggregationEngine) CompleteResponse(ctx context.Context, surveyID uint, participantID string) (*models.Response, error) {
	p, err := e.joins.Participant(ctx, surveyID, participantID)
	if err != nil {
		return nil, err
	}
	return e.store.CompleteResponse(ctx, surveyID, p.ID, p.Nickname)
}

// Response returns the participant's response with its current contributions.
func (e *AggregationEngine) Response(ctx context.Context, surveyID uint, participantID string) (*models.Response, error) {
	p, err := e.joins.Participant(ctx, surveyID, participantID)
	if err != nil {
		return nil, err
	}
	return e.store.GetResponse(ctx, surveyID, p.ID)
}
