package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"livesurvey/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const creatorID uint = 7

type testEnv struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	store     *SessionStore
	hub       *Hub
	lifecycle *LifecycleController
	joins     *JoinCoordinator
	engine    *AggregationEngine
	surveys   *SurveyService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := NewSessionStore(db)
	require.NoError(t, store.Migrate())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hub := NewHub()
	lifecycle := NewLifecycleController(store, rdb, time.Hour, hub)
	joins := NewJoinCoordinator(store, NewParticipantRegistry(rdb, time.Hour), lifecycle)

	return &testEnv{
		db:        db,
		mr:        mr,
		rdb:       rdb,
		store:     store,
		hub:       hub,
		lifecycle: lifecycle,
		joins:     joins,
		engine:    NewAggregationEngine(store, joins, hub),
		surveys:   NewSurveyService(store, lifecycle, joins),
	}
}

func choiceQuestion(text string, labels ...string) CreateQuestionRequest {
	req := CreateQuestionRequest{Type: models.TypeSingleChoice, Text: text}
	for _, l := range labels {
		req.Options = append(req.Options, CreateOptionRequest{Label: l})
	}
	return req
}

func quizQuestion(text string, correct int, labels ...string) CreateQuestionRequest {
	req := CreateQuestionRequest{Type: models.TypeQuiz, Text: text}
	for i, l := range labels {
		req.Options = append(req.Options, CreateOptionRequest{Label: l, IsCorrect: i == correct})
	}
	return req
}

func scaleQuestion(text string, min, max int) CreateQuestionRequest {
	return CreateQuestionRequest{Type: models.TypeScale, Text: text, ScaleMin: min, ScaleMax: max}
}

func wordQuestion(text string, limit int) CreateQuestionRequest {
	return CreateQuestionRequest{Type: models.TypeWordCloud, Text: text, WordLimit: limit}
}

func (e *testEnv) createSurvey(t *testing.T, questions ...CreateQuestionRequest) *models.Survey {
	t.Helper()
	survey, err := e.surveys.CreateSurvey(context.Background(), creatorID, &CreateSurveyRequest{
		Title:     "Team retro",
		Questions: questions,
	})
	require.NoError(t, err)
	return survey
}

func (e *testEnv) activate(t *testing.T, surveyID uint) *models.Survey {
	t.Helper()
	survey, err := e.lifecycle.Activate(context.Background(), surveyID, creatorID)
	require.NoError(t, err)
	require.True(t, survey.IsActive())
	return survey
}

func (e *testEnv) join(t *testing.T, survey *models.Survey, nickname string) string {
	t.Helper()
	res, err := e.joins.Join(context.Background(), survey.JoinCode, nickname)
	require.NoError(t, err)
	return res.ParticipantID
}

func (e *testEnv) tally(t *testing.T, questionID uint) map[string]int {
	t.Helper()
	tally, err := e.store.Tally(context.Background(), questionID)
	require.NoError(t, err)
	return tally
}

// listen subscribes a socketless client to a survey and returns it. An empty
// participantID listens as the creator.
func (e *testEnv) listen(t *testing.T, surveyID uint, participantID string) *Client {
	t.Helper()
	c := newClient(e.hub, nil, surveyID, participantID, "")
	e.hub.Subscribe(c)
	t.Cleanup(func() { e.hub.Unsubscribe(c) })
	return c
}

func recv(t *testing.T, c *Client) InboundMessage {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "client channel closed")
		var msg InboundMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return InboundMessage{}
	}
}

// recvType skips events until one of the given type arrives.
func recvType(t *testing.T, c *Client, event string) InboundMessage {
	t.Helper()
	for {
		msg := recv(t, c)
		if msg.Type == event {
			return msg
		}
	}
}

func assertNoEvent(t *testing.T, c *Client, event string) {
	t.Helper()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			var msg InboundMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			require.NotEqual(t, event, msg.Type, "unexpected %s event", event)
		default:
			return
		}
	}
}
