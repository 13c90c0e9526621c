package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"livesurvey/middleware"
	"livesurvey/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const dispatchTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SocketHandler upgrades presenter and participant connections and handles the
// messages they send.
type SocketHandler struct {
	hub       *services.Hub
	surveys   *services.SurveyService
	joins     *services.JoinCoordinator
	lifecycle *services.LifecycleController
	engine    *services.AggregationEngine
	jwtSecret string
}

func NewSocketHandler(hub *services.Hub, surveys *services.SurveyService, joins *services.JoinCoordinator, lifecycle *services.LifecycleController, engine *services.AggregationEngine, jwtSecret string) *SocketHandler {
	h := &SocketHandler{
		hub:       hub,
		surveys:   surveys,
		joins:     joins,
		lifecycle: lifecycle,
		engine:    engine,
		jwtSecret: jwtSecret,
	}
	hub.SetDispatcher(h)
	return h
}

// SessionState is sent to a client on connect and on request-state.
type SessionState struct {
	Cursor *services.CursorState   `json:"cursor"`
	Tally  *services.TallySnapshot `json:"tally"`
	Joined int                     `json:"joined"`
}

type errorPayload struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Serve upgrades GET /ws/surveys/:id. Participants pass participant_id; presenters
// pass a token for the survey's creator.
func (h *SocketHandler) Serve(c *gin.Context) {
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	participantID := c.Query("participant_id")
	var nickname string
	var userID uint
	if participantID != "" {
		p, err := h.joins.Participant(ctx, surveyID, participantID)
		if err != nil {
			respondError(c, err)
			return
		}
		nickname = p.Nickname
	} else {
		var err error
		userID, err = middleware.ParseToken(h.jwtSecret, c.Query("token"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		if _, err := h.surveys.GetSurvey(ctx, surveyID, userID); err != nil {
			respondError(c, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "survey_id", surveyID, "error", err)
		return
	}

	client := h.hub.RegisterClient(conn, surveyID, userID, participantID, nickname)
	h.sendState(client)
}

func (h *SocketHandler) Dispatch(client *services.Client, msg services.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	switch msg.Type {
	case "ping":
		h.hub.SendTo(client, services.EventPong, "pong")

	case "request-state":
		h.sendState(client)

	case "submit-answer":
		if client.IsCreator() {
			h.sendError(client, services.ErrUnauthorized)
			return
		}
		var req services.SubmitAnswerRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			h.sendError(client, services.ErrInvalidAnswer)
			return
		}
		answer, err := req.Answer()
		if err != nil {
			h.sendError(client, err)
			return
		}
		res, err := h.engine.SubmitAnswer(ctx, client.SurveyID(), client.ParticipantID(), req.QuestionID, answer)
		if err != nil {
			h.sendError(client, err)
			return
		}
		h.hub.SendTo(client, services.EventAnswerAccepted, res)

	case "complete":
		if client.IsCreator() {
			h.sendError(client, services.ErrUnauthorized)
			return
		}
		resp, err := h.engine.CompleteResponse(ctx, client.SurveyID(), client.ParticipantID())
		if err != nil {
			h.sendError(client, err)
			return
		}
		h.hub.SendTo(client, services.EventResponseCompleted, resp)

	case "next", "previous", "end":
		if !client.IsCreator() {
			h.sendError(client, services.ErrUnauthorized)
			return
		}
		if err := h.control(ctx, client, msg.Type); err != nil {
			h.sendError(client, err)
			return
		}
		h.sendState(client)

	default:
		h.hub.SendTo(client, services.EventError, errorPayload{
			Error:  "unknown message type " + msg.Type,
			Status: http.StatusBadRequest,
		})
	}
}

// control steers the survey for its presenter. Events reach every subscriber
// through the lifecycle controller.
func (h *SocketHandler) control(ctx context.Context, client *services.Client, action string) error {
	var err error
	switch action {
	case "next":
		_, err = h.lifecycle.Next(ctx, client.SurveyID(), client.UserID())
	case "previous":
		_, err = h.lifecycle.Previous(ctx, client.SurveyID(), client.UserID())
	case "end":
		_, err = h.lifecycle.Deactivate(ctx, client.SurveyID(), client.UserID())
	}
	return err
}

// Disconnected forgets a participant whose last socket closed.
func (h *SocketHandler) Disconnected(client *services.Client) {
	if client.IsCreator() || h.hub.Connected(client.SurveyID(), client.ParticipantID()) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	p, err := h.joins.Participant(ctx, client.SurveyID(), client.ParticipantID())
	if errors.Is(err, services.ErrNotFound) {
		return
	}
	if err == nil {
		err = h.joins.Leave(ctx, p)
	}
	if err != nil {
		slog.Warn("failed to remove participant", "participant", client.ParticipantID(), "error", err)
	}
}

func (h *SocketHandler) sendState(client *services.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	state := SessionState{Joined: h.hub.ParticipantCount(client.SurveyID())}
	cursor, err := h.lifecycle.Cursor(ctx, client.SurveyID())
	switch {
	case err == nil:
		state.Cursor = cursor
		if cursor.QuestionID != 0 {
			snap, err := h.engine.Snapshot(ctx, client.SurveyID(), cursor.QuestionID)
			if err == nil {
				state.Tally = &snap
			}
		}
	case !errors.Is(err, services.ErrSessionClosed):
		h.sendError(client, err)
		return
	}
	h.hub.SendTo(client, services.EventState, state)
}

func (h *SocketHandler) sendError(client *services.Client, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("socket message failed", "client", client.ID(), "error", err)
		msg = http.StatusText(status)
	}
	h.hub.SendTo(client, services.EventError, errorPayload{Error: msg, Status: status})
}
