package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/vocalis/server/internal/api"
	"github.com/vocalis/server/internal/auth"
	"github.com/vocalis/server/internal/bootstrap"
	"github.com/vocalis/server/internal/config"
	"github.com/vocalis/server/internal/websocket"
	"github.com/vocalis/server/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}
	issuer, err := auth.NewTokenIssuer(secret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}

	app, err := bootstrap.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	app.Start()

	sessions := usecase.NewSessionService(app.Sessions, logger)

	hub := websocket.NewHub(app.Pipeline, sessions, logger)
	go hub.Run()

	cleanup := websocket.NewSessionCleanupService(sessions, 0, logger)
	cleanup.Start()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Dependencies{
		Pipeline:           app.Pipeline,
		Completion:         app.Completion,
		Sessions:           sessions,
		Recorder:           app.Recorder,
		Issuer:             issuer,
		Hub:                hub,
		Language:           cfg.Pipeline.Language,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("completionProvider", cfg.CompletionProvider),
		zap.String("sttProvider", cfg.STTProvider),
		zap.String("ttsProvider", cfg.TTSProvider))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cleanup.Stop()
	app.Close(ctx)

	logger.Info("Server exited")
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
