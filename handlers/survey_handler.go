package handlers

import (
	"context"
	"net/http"

	"livesurvey/services"

	"github.com/gin-gonic/gin"
)

// SurveyHandler serves the creator-facing survey endpoints.
type SurveyHandler struct {
	surveys   *services.SurveyService
	lifecycle *services.LifecycleController
	engine    *services.AggregationEngine
}

func NewSurveyHandler(surveys *services.SurveyService, lifecycle *services.LifecycleController, engine *services.AggregationEngine) *SurveyHandler {
	return &SurveyHandler{
		surveys:   surveys,
		lifecycle: lifecycle,
		engine:    engine,
	}
}

func (h *SurveyHandler) CreateSurvey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req services.CreateSurveyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	survey, err := h.surveys.CreateSurvey(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, survey)
}

func (h *SurveyHandler) GetUserSurveys(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	surveys, err := h.surveys.GetUserSurveys(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, surveys)
}

func (h *SurveyHandler) GetSurvey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	survey, err := h.surveys.GetSurvey(c.Request.Context(), surveyID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, survey)
}

func (h *SurveyHandler) UpdateSurvey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateSurveyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	survey, err := h.surveys.UpdateSurvey(c.Request.Context(), surveyID, userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, survey)
}

func (h *SurveyHandler) DeleteSurvey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	if err := h.surveys.DeleteSurvey(c.Request.Context(), surveyID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Survey deleted successfully"})
}

func (h *SurveyHandler) AddQuestion(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req services.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	question, err := h.surveys.AddQuestion(c.Request.Context(), surveyID, userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, question)
}

func (h *SurveyHandler) RemoveQuestion(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	questionID, ok := uintParam(c, "questionID")
	if !ok {
		return
	}

	if err := h.surveys.RemoveQuestion(c.Request.Context(), surveyID, userID, questionID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Question deleted successfully"})
}

func (h *SurveyHandler) ReorderQuestions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req services.ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	survey, err := h.surveys.ReorderQuestions(c.Request.Context(), surveyID, userID, req.QuestionIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, survey)
}

func (h *SurveyHandler) Activate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	survey, err := h.lifecycle.Activate(c.Request.Context(), surveyID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, survey)
}

func (h *SurveyHandler) Deactivate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	survey, err := h.lifecycle.Deactivate(c.Request.Context(), surveyID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, survey)
}

func (h *SurveyHandler) RegenerateCode(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	code, err := h.lifecycle.RegenerateCode(c.Request.Context(), surveyID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"join_code": code})
}

func (h *SurveyHandler) NextQuestion(c *gin.Context) {
	h.navigate(c, h.lifecycle.Next)
}

func (h *SurveyHandler) PreviousQuestion(c *gin.Context) {
	h.navigate(c, h.lifecycle.Previous)
}

func (h *SurveyHandler) navigate(c *gin.Context, move func(ctx context.Context, surveyID, actorID uint) (*services.CursorState, error)) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	state, err := move(c.Request.Context(), surveyID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *SurveyHandler) GetStats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	stats, joined, err := h.surveys.GetStats(c.Request.Context(), surveyID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":               stats,
		"joined_participants": joined,
	})
}

func (h *SurveyHandler) GetResponses(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	responses, err := h.surveys.GetResponses(c.Request.Context(), surveyID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, responses)
}

func (h *SurveyHandler) RecomputeTally(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	surveyID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	questionID, ok := uintParam(c, "questionID")
	if !ok {
		return
	}

	if _, err := h.surveys.GetSurvey(c.Request.Context(), surveyID, userID); err != nil {
		respondError(c, err)
		return
	}
	snap, err := h.engine.Recompute(c.Request.Context(), surveyID, questionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}
