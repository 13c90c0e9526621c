package handlers

import (
	"net/http"

	"livesurvey/services"

	"github.com/gin-gonic/gin"
)

// SessionHandler serves the participant-facing endpoints of running surveys.
type SessionHandler struct {
	surveys   *services.SurveyService
	joins     *services.JoinCoordinator
	lifecycle *services.LifecycleController
	engine    *services.AggregationEngine
}

func NewSessionHandler(surveys *services.SurveyService, joins *services.JoinCoordinator, lifecycle *services.LifecycleController, engine *services.AggregationEngine) *SessionHandler {
	return &SessionHandler{
		surveys:   surveys,
		joins:     joins,
		lifecycle: lifecycle,
		engine:    engine,
	}
}

type JoinRequest struct {
	Code     string `json:"code" binding:"required"`
	Nickname string `json:"nickname" binding:"required"`
}

type CompleteRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
}

func (h *SessionHandler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.joins.Join(c.Request.Context(), req.Code, req.Nickname)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	view, err := h.surveys.GetSessionView(c.Request.Context(), surveyID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *SessionHandler) GetCursor(c *gin.Context) {
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	state, err := h.lifecycle.Cursor(c.Request.Context(), surveyID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	answer, err := req.Answer()
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.engine.SubmitAnswer(c.Request.Context(), surveyID, req.ParticipantID, req.QuestionID, answer)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *SessionHandler) CompleteResponse(c *gin.Context) {
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.engine.CompleteResponse(c.Request.Context(), surveyID, req.ParticipantID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetResponse returns the caller's own response with its current answers.
func (h *SessionHandler) GetResponse(c *gin.Context) {
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	resp, err := h.engine.Response(c.Request.Context(), surveyID, c.Query("participant_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetTally returns a question's current tally in the same shape as tally-updated
// pushes.
func (h *SessionHandler) GetTally(c *gin.Context) {
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	questionID, ok := uintParam(c, "questionID")
	if !ok {
		return
	}

	snap, err := h.engine.Snapshot(c.Request.Context(), surveyID, questionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}
