package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livesurvey/config"
	"livesurvey/handlers"
	"livesurvey/middleware"
	"livesurvey/routes"
	"livesurvey/services"

	"github.com/gin-gonic/gin"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	store := services.NewSessionStore(db)
	if err := store.Migrate(); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	redisClient := config.InitRedis(cfg)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	hub := services.NewHub()
	lifecycle := services.NewLifecycleController(store, redisClient, cfg.CursorTTL, hub)
	joins := services.NewJoinCoordinator(store, services.NewParticipantRegistry(redisClient, cfg.ParticipantTTL), lifecycle)
	engine := services.NewAggregationEngine(store, joins, hub)
	surveys := services.NewSurveyService(store, lifecycle, joins)

	surveyHandler := handlers.NewSurveyHandler(surveys, lifecycle, engine)
	sessionHandler := handlers.NewSessionHandler(surveys, joins, lifecycle, engine)
	socketHandler := handlers.NewSocketHandler(hub, surveys, joins, lifecycle, engine, cfg.JWTSecret)

	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, surveyHandler, sessionHandler, socketHandler, cfg.JWTSecret)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		slog.Warn("failed to close redis", "error", err)
	}
}
