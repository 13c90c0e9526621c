package routes

import (
	"net/http"

	"livesurvey/handlers"
	"livesurvey/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	surveyHandler *handlers.SurveyHandler,
	sessionHandler *handlers.SessionHandler,
	socketHandler *handlers.SocketHandler,
	jwtSecret string,
) {
	api := router.Group("/api")
	{
		// Creator routes
		surveys := api.Group("/surveys")
		surveys.Use(middleware.AuthMiddleware(jwtSecret))
		{
			surveys.GET("", surveyHandler.GetUserSurveys)
			surveys.POST("", surveyHandler.CreateSurvey)
			surveys.GET("/:id", surveyHandler.GetSurvey)
			surveys.PUT("/:id", surveyHandler.UpdateSurvey)
			surveys.DELETE("/:id", surveyHandler.DeleteSurvey)

			surveys.POST("/:id/questions", surveyHandler.AddQuestion)
			surveys.PUT("/:id/questions/order", surveyHandler.ReorderQuestions)
			surveys.DELETE("/:id/questions/:questionID", surveyHandler.RemoveQuestion)
			surveys.POST("/:id/questions/:questionID/recompute", surveyHandler.RecomputeTally)

			surveys.POST("/:id/activate", surveyHandler.Activate)
			surveys.POST("/:id/deactivate", surveyHandler.Deactivate)
			surveys.POST("/:id/code", surveyHandler.RegenerateCode)
			surveys.POST("/:id/next", surveyHandler.NextQuestion)
			surveys.POST("/:id/previous", surveyHandler.PreviousQuestion)
			surveys.GET("/:id/stats", surveyHandler.GetStats)
			surveys.GET("/:id/responses", surveyHandler.GetResponses)
		}

		// Participant routes
		api.POST("/join", sessionHandler.Join)
		sessions := api.Group("/sessions")
		{
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.GET("/:id/cursor", sessionHandler.GetCursor)
			sessions.POST("/:id/answers", sessionHandler.SubmitAnswer)
			sessions.POST("/:id/complete", sessionHandler.CompleteResponse)
			sessions.GET("/:id/response", sessionHandler.GetResponse)
			sessions.GET("/:id/questions/:questionID/tally", sessionHandler.GetTally)
		}
	}

	router.GET("/ws/surveys/:id", socketHandler.Serve)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
