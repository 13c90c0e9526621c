package handlers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinAndAnswer(t *testing.T) {
	r := newRouter(t)
	survey := createSurvey(t, r, choice("Color?", "A", "B"))
	activate(t, r, survey.ID)
	q := survey.Questions[0]

	p := join(t, r, strings.ToLower(survey.JoinCode), "Ada")
	assert.Equal(t, survey.ID, p.SurveyID)

	answers := fmt.Sprintf("/api/sessions/%d/answers", survey.ID)
	w := do(t, r, http.MethodPost, answers, 0, map[string]interface{}{
		"participant_id": p.ParticipantID, "question_id": q.ID, "option_id": q.Options[0].ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, answers, 0, map[string]interface{}{
		"participant_id": p.ParticipantID, "question_id": q.ID, "option_id": q.Options[1].ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, fmt.Sprintf("/api/sessions/%d/questions/%d/tally", survey.ID, q.ID), 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"survey_id":%d,"question_id":%d,"tally":{"A":0,"B":1}}`, survey.ID, q.ID), w.Body.String())

	w = do(t, r, http.MethodGet, fmt.Sprintf("/api/sessions/%d/response?participant_id=%s", survey.ID, p.ParticipantID), 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"answer_key":"B"`)

	w = do(t, r, http.MethodPost, fmt.Sprintf("/api/sessions/%d/complete", survey.ID), 0, map[string]string{
		"participant_id": p.ParticipantID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"completed":true`)

	w = do(t, r, http.MethodGet, fmt.Sprintf("/api/surveys/%d/stats", survey.ID), ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[struct {
		Stats struct {
			TotalResponses     int `json:"total_responses"`
			CompletedResponses int `json:"completed_responses"`
		} `json:"stats"`
		Joined int `json:"joined_participants"`
	}](t, w)
	assert.Equal(t, 1, stats.Stats.TotalResponses)
	assert.Equal(t, 1, stats.Stats.CompletedResponses)
	assert.Equal(t, 1, stats.Joined)

	w = do(t, r, http.MethodPost, fmt.Sprintf("/api/surveys/%d/questions/%d/recompute", survey.ID, q.ID), ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"B":1`)
}

func TestAnswerErrors(t *testing.T) {
	r := newRouter(t)
	survey := createSurvey(t, r, scale("Rate", 1, 5))
	activate(t, r, survey.ID)
	q := survey.Questions[0]
	p := join(t, r, survey.JoinCode, "Ada")
	answers := fmt.Sprintf("/api/sessions/%d/answers", survey.ID)

	w := do(t, r, http.MethodPost, answers, 0, map[string]interface{}{
		"participant_id": p.ParticipantID, "question_id": q.ID, "value": 7,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, answers, 0, map[string]interface{}{
		"participant_id": p.ParticipantID, "question_id": q.ID, "value": 3, "text": "three",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, answers, 0, map[string]interface{}{
		"participant_id": "ghost", "question_id": q.ID, "value": 3,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, fmt.Sprintf("/api/surveys/%d/deactivate", survey.ID), ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, answers, 0, map[string]interface{}{
		"participant_id": p.ParticipantID, "question_id": q.ID, "value": 3,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestJoinErrors(t *testing.T) {
	r := newRouter(t)
	survey := createSurvey(t, r, choice("Q", "a", "b"))

	w := do(t, r, http.MethodPost, "/api/join", 0, map[string]string{"code": survey.JoinCode, "nickname": "Ada"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	activate(t, r, survey.ID)
	w = do(t, r, http.MethodPost, "/api/join", 0, map[string]string{"code": survey.JoinCode, "nickname": strings.Repeat("x", 51)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/join", 0, map[string]string{"code": survey.JoinCode})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionViewHidesAnswers(t *testing.T) {
	r := newRouter(t)
	survey := createSurvey(t, r, map[string]interface{}{
		"type": "quiz",
		"text": "2+2?",
		"options": []map[string]interface{}{
			{"label": "3"},
			{"label": "4", "is_correct": true},
		},
	})
	activate(t, r, survey.ID)

	w := do(t, r, http.MethodGet, fmt.Sprintf("/api/sessions/%d", survey.ID), 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "is_correct")
	assert.Contains(t, w.Body.String(), `"label":"4"`)
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == event {
			return msg
		}
	}
}

func TestPushedTallyMatchesPulledBytes(t *testing.T) {
	r := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	survey := createSurvey(t, r, choice("Pick", "Zeta", "Alpha"))
	activate(t, r, survey.ID)
	q := survey.Questions[0]

	presenter := dial(t, srv, fmt.Sprintf("/ws/surveys/%d?token=%s", survey.ID, tokenFor(t, ownerID)))
	readUntil(t, presenter, "state")

	p := join(t, r, survey.JoinCode, "Ada")
	participant := dial(t, srv, fmt.Sprintf("/ws/surveys/%d?participant_id=%s", survey.ID, p.ParticipantID))
	readUntil(t, presenter, "participant-joined")

	require.NoError(t, participant.WriteJSON(map[string]interface{}{
		"type":    "submit-answer",
		"payload": map[string]interface{}{"question_id": q.ID, "option_id": q.Options[1].ID},
	}))
	accepted := readUntil(t, participant, "answer-accepted")
	assert.Contains(t, string(accepted.Payload), `"Alpha":1`)

	pushed := readUntil(t, presenter, "tally-updated")
	w := do(t, r, http.MethodGet, fmt.Sprintf("/api/sessions/%d/questions/%d/tally", survey.ID, q.ID), 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, w.Body.String(), string(pushed.Payload))
}

func TestSocketRejectsStrangers(t *testing.T) {
	r := newRouter(t)
	survey := createSurvey(t, r, choice("Pick", "a", "b"))
	activate(t, r, survey.ID)

	w := do(t, r, http.MethodGet, fmt.Sprintf("/ws/surveys/%d?participant_id=ghost", survey.ID), 0, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, fmt.Sprintf("/ws/surveys/%d?token=%s", survey.ID, tokenFor(t, otherUserID)), 0, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodGet, fmt.Sprintf("/ws/surveys/%d", survey.ID), 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestParticipantDisconnectForgetsIdentity(t *testing.T) {
	r := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	survey := createSurvey(t, r, choice("Pick", "a", "b"))
	activate(t, r, survey.ID)
	p := join(t, r, survey.JoinCode, "Ada")

	conn := dial(t, srv, fmt.Sprintf("/ws/surveys/%d?participant_id=%s", survey.ID, p.ParticipantID))
	readUntil(t, conn, "state")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readUntil(t, conn, "pong")
	conn.Close()

	answers := fmt.Sprintf("/api/sessions/%d/answers", survey.ID)
	assert.Eventually(t, func() bool {
		w := do(t, r, http.MethodPost, answers, 0, map[string]interface{}{
			"participant_id": p.ParticipantID, "question_id": survey.Questions[0].ID, "option_id": survey.Questions[0].Options[0].ID,
		})
		return w.Code == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPresenterControlsSurveyOverSocket(t *testing.T) {
	r := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	survey := createSurvey(t, r, choice("One", "a", "b"), scale("Two", 1, 3))
	activate(t, r, survey.ID)
	p := join(t, r, survey.JoinCode, "Ada")

	presenter := dial(t, srv, fmt.Sprintf("/ws/surveys/%d?token=%s", survey.ID, tokenFor(t, ownerID)))
	readUntil(t, presenter, "state")
	participant := dial(t, srv, fmt.Sprintf("/ws/surveys/%d?participant_id=%s", survey.ID, p.ParticipantID))
	readUntil(t, participant, "state")

	require.NoError(t, participant.WriteJSON(map[string]string{"type": "next"}))
	denied := readUntil(t, participant, "error")
	assert.Contains(t, string(denied.Payload), `"status":403`)

	require.NoError(t, presenter.WriteJSON(map[string]string{"type": "next"}))
	changed := readUntil(t, participant, "question-changed")
	assert.Contains(t, string(changed.Payload), fmt.Sprintf(`"question_id":%d`, survey.Questions[1].ID))
	state := readUntil(t, presenter, "state")
	assert.Contains(t, string(state.Payload), `"index":1`)

	require.NoError(t, presenter.WriteJSON(map[string]string{"type": "previous"}))
	changed = readUntil(t, participant, "question-changed")
	assert.Contains(t, string(changed.Payload), `"index":0`)

	require.NoError(t, presenter.WriteJSON(map[string]string{"type": "end"}))
	readUntil(t, participant, "survey-ended")

	w := do(t, r, http.MethodGet, fmt.Sprintf("/api/sessions/%d", survey.ID), 0, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestClosingOneTabKeepsParticipant(t *testing.T) {
	r := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	survey := createSurvey(t, r, choice("Pick", "a", "b"))
	activate(t, r, survey.ID)
	q := survey.Questions[0]
	p := join(t, r, survey.JoinCode, "Ada")

	presenter := dial(t, srv, fmt.Sprintf("/ws/surveys/%d?token=%s", survey.ID, tokenFor(t, ownerID)))
	readUntil(t, presenter, "state")
	path := fmt.Sprintf("/ws/surveys/%d?participant_id=%s", survey.ID, p.ParticipantID)
	first := dial(t, srv, path)
	readUntil(t, first, "state")
	second := dial(t, srv, path)
	readUntil(t, second, "state")

	first.Close()
	readUntil(t, presenter, "participant-left")

	answers := fmt.Sprintf("/api/sessions/%d/answers", survey.ID)
	assert.Never(t, func() bool {
		w := do(t, r, http.MethodPost, answers, 0, map[string]interface{}{
			"participant_id": p.ParticipantID, "question_id": q.ID, "option_id": q.Options[0].ID,
		})
		return w.Code == http.StatusNotFound
	}, 300*time.Millisecond, 20*time.Millisecond)

	require.NoError(t, second.WriteJSON(map[string]interface{}{
		"type":    "submit-answer",
		"payload": map[string]interface{}{"question_id": q.ID, "option_id": q.Options[1].ID},
	}))
	readUntil(t, second, "answer-accepted")
}
