package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"livesurvey/handlers"
	"livesurvey/middleware"
	"livesurvey/routes"
	"livesurvey/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	jwtSecret        = "handler-test-secret"
	ownerID     uint = 1
	otherUserID uint = 2
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := services.NewSessionStore(db)
	require.NoError(t, store.Migrate())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hub := services.NewHub()
	lifecycle := services.NewLifecycleController(store, rdb, time.Hour, hub)
	joins := services.NewJoinCoordinator(store, services.NewParticipantRegistry(rdb, time.Hour), lifecycle)
	engine := services.NewAggregationEngine(store, joins, hub)
	surveys := services.NewSurveyService(store, lifecycle, joins)

	router := gin.New()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router,
		handlers.NewSurveyHandler(surveys, lifecycle, engine),
		handlers.NewSessionHandler(surveys, joins, lifecycle, engine),
		handlers.NewSocketHandler(hub, surveys, joins, lifecycle, engine, jwtSecret),
		jwtSecret,
	)
	return router
}

func tokenFor(t *testing.T, userID uint) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return token
}

func do(t *testing.T, r http.Handler, method, path string, userID uint, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type surveyBody struct {
	ID        uint   `json:"id"`
	JoinCode  string `json:"join_code"`
	State     string `json:"state"`
	Locked    bool   `json:"locked"`
	Questions []struct {
		ID      uint `json:"id"`
		Options []struct {
			ID    uint   `json:"id"`
			Label string `json:"label"`
		} `json:"options"`
	} `json:"questions"`
}

type joinBody struct {
	ParticipantID string `json:"participant_id"`
	SurveyID      uint   `json:"survey_id"`
}

func createSurvey(t *testing.T, r http.Handler, questions ...map[string]interface{}) surveyBody {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/surveys", ownerID, map[string]interface{}{
		"title":     "All hands",
		"questions": questions,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[surveyBody](t, w)
}

func activate(t *testing.T, r http.Handler, surveyID uint) surveyBody {
	t.Helper()
	w := do(t, r, http.MethodPost, fmt.Sprintf("/api/surveys/%d/activate", surveyID), ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[surveyBody](t, w)
}

func join(t *testing.T, r http.Handler, code, nickname string) joinBody {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/join", 0, map[string]string{"code": code, "nickname": nickname})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[joinBody](t, w)
}

func choice(text string, labels ...string) map[string]interface{} {
	var opts []map[string]interface{}
	for _, l := range labels {
		opts = append(opts, map[string]interface{}{"label": l})
	}
	return map[string]interface{}{"type": "single-choice", "text": text, "options": opts}
}

func scale(text string, min, max int) map[string]interface{} {
	return map[string]interface{}{"type": "scale", "text": text, "scale_min": min, "scale_max": max}
}
