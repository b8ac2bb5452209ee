package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/domain/repositories"
	"github.com/vocalis/server/internal/audio"
	"github.com/vocalis/server/internal/auth"
	"github.com/vocalis/server/internal/websocket"
	"github.com/vocalis/server/usecase"
)

const (
	claimsKey           = "sessionClaims"
	maxUploadSize       = "25M"
	listModelsTimeout   = 10 * time.Second
	sessionWriteTimeout = 5 * time.Second
)

// Dependencies are the components the web front-end calls into
type Dependencies struct {
	Pipeline   usecase.TurnExecutor
	Completion repositories.CompletionClient
	Sessions   *usecase.SessionService
	// Recorder is optional; stats are empty without it
	Recorder repositories.TurnRecorder
	Issuer   *auth.TokenIssuer
	Hub      *websocket.Hub
	// Language is given to new sessions that do not ask for one
	Language string
	// RateLimitPerMinute bounds turn submissions per client IP; zero disables it
	RateLimitPerMinute int
}

type handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	h := &handler{deps: deps, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "vocalis-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/sessions", h.createSession)
	v1.GET("/stats", h.getStats)
	v1.GET("/models", h.listModels, h.requireSession(false))

	turnMiddleware := []echo.MiddlewareFunc{middleware.BodyLimit(maxUploadSize), h.requireSession(false)}
	if deps.RateLimitPerMinute > 0 {
		turnMiddleware = append(turnMiddleware, echo.WrapMiddleware(httprate.LimitByIP(deps.RateLimitPerMinute, time.Minute)))
	}
	v1.POST("/turns", h.createTurn, turnMiddleware...)

	// Browsers cannot set headers on a WebSocket handshake, so /ws also accepts ?token=
	e.GET("/ws", h.serveWebSocket, h.requireSession(true))
}

// requireSession validates the bearer token and stores its claims in the context
func (h *handler) requireSession(allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil && allowQuery && c.QueryParam("token") != "" {
				token, err = c.QueryParam("token"), nil
			}
			if err != nil {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			claims, err := h.deps.Issuer.Validate(token)
			if err != nil {
				h.logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func (h *handler) createSession(c echo.Context) error {
	var req SessionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Invalid request format",
			})
		}
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = h.deps.Language
	}

	session, err := h.deps.Sessions.Start(c.Request().Context(), entities.ChannelWeb, language)
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "session_creation_failed",
			Message: "Failed to create session",
		})
	}

	token, expiresAt, err := h.deps.Issuer.Issue(session.ID, session.Language)
	if err != nil {
		h.logger.Error("Failed to generate session token",
			zap.String("sessionID", session.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	return c.JSON(http.StatusCreated, SessionResponse{
		Token:     token,
		SessionID: session.ID,
		ExpiresAt: expiresAt,
	})
}

func (h *handler) createTurn(c echo.Context) error {
	claims := c.Get(claimsKey).(*auth.SessionClaims)
	ctx := c.Request().Context()

	session, err := h.deps.Sessions.Resume(ctx, claims.SessionID)
	if err != nil {
		return h.sessionError(c, claims.SessionID, err)
	}

	input, err := readTurnInput(c)
	if err != nil {
		h.logger.Warn("Invalid turn submission",
			zap.String("sessionID", session.ID),
			zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_audio",
			Message: err.Error(),
		})
	}

	turn := h.deps.Pipeline.Execute(ctx, usecase.TurnRequest{
		SessionID: session.ID,
		Input:     input,
		Channel:   entities.ChannelWeb,
		Language:  session.Language,
	})

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionWriteTimeout)
	defer cancel()
	h.deps.Sessions.RecordTurn(recordCtx, session.ID)

	locale := usecase.ParseLocale(session.Language)
	if accept := c.Request().Header.Get("Accept-Language"); accept != "" {
		locale = usecase.ParseLocale(accept)
	}

	return c.JSON(turnHTTPStatus(turn), usecase.NewTurnResultMessage(turn, locale, true))
}

func (h *handler) listModels(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), listModelsTimeout)
	defer cancel()

	models, err := h.deps.Completion.ListModels(ctx)
	if err != nil {
		h.logger.Error("Failed to list models", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "models_unavailable",
			Message: "Failed to list models",
		})
	}

	return c.JSON(http.StatusOK, ModelsResponse{Models: models})
}

func (h *handler) getStats(c echo.Context) error {
	if h.deps.Recorder == nil {
		return c.JSON(http.StatusOK, entities.NewTurnStats())
	}

	stats, err := h.deps.Recorder.Stats(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to load turn stats", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "stats_unavailable",
			Message: "Failed to load statistics",
		})
	}

	return c.JSON(http.StatusOK, stats)
}

func (h *handler) serveWebSocket(c echo.Context) error {
	claims := c.Get(claimsKey).(*auth.SessionClaims)

	session, err := h.deps.Sessions.Resume(c.Request().Context(), claims.SessionID)
	if err != nil {
		return h.sessionError(c, claims.SessionID, err)
	}

	h.logger.Info("WebSocket connection authenticated", zap.String("sessionID", session.ID))

	return websocket.HandleWebSocketWithAuth(h.deps.Hub, c, session.ID, session.Language, h.logger)
}

func (h *handler) sessionError(c echo.Context, sessionID string, err error) error {
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionExpired) {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "session_expired",
			Message: "Session expired, create a new one",
		})
	}

	h.logger.Error("Failed to load session", zap.String("sessionID", sessionID), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Failed to load session",
	})
}

// readTurnInput accepts a multipart "audio" file in any supported container,
// or a JSON body with base64 PCM samples
func readTurnInput(c echo.Context) (audio.Input, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var req PCMTurnRequest
		if err := c.Bind(&req); err != nil {
			return audio.Input{}, fmt.Errorf("invalid request format")
		}
		if req.SampleRate < 8000 || req.SampleRate > 48000 {
			return audio.Input{}, fmt.Errorf("sample_rate must be between 8000 and 48000")
		}
		channels := req.Channels
		if channels == 0 {
			channels = 1
		}
		if channels < 1 || channels > 2 {
			return audio.Input{}, fmt.Errorf("channels must be 1 or 2")
		}
		data, err := base64.StdEncoding.DecodeString(req.PCM)
		if err != nil {
			return audio.Input{}, fmt.Errorf("pcm must be base64 encoded")
		}
		return audio.Input{
			Format:     audio.FormatPCM16,
			Data:       data,
			SampleRate: req.SampleRate,
			Channels:   channels,
		}, nil
	}

	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return audio.Input{}, fmt.Errorf("multipart field \"audio\" is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return audio.Input{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return audio.Input{}, fmt.Errorf("failed to read upload: %w", err)
	}

	return audio.Input{Format: audio.FormatAuto, Data: data}, nil
}

// turnHTTPStatus keeps 200 for turns that ran, including failed ones whose
// body carries the error, and maps rejected submissions to client/server codes
func turnHTTPStatus(turn *entities.VoiceTurn) int {
	if turn.Failure == nil {
		return http.StatusOK
	}
	switch turn.Failure.Kind {
	case entities.FailureInvalidInput:
		return http.StatusBadRequest
	case entities.FailureBusy:
		return http.StatusServiceUnavailable
	case entities.FailureTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusOK
	}
}
