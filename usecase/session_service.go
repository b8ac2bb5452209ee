package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/domain/repositories"
)

// SessionService owns the session lifecycle for every front-end
type SessionService struct {
	repo   repositories.SessionRepository
	logger *zap.Logger
}

// NewSessionService creates a new session service
func NewSessionService(repo repositories.SessionRepository, logger *zap.Logger) *SessionService {
	return &SessionService{repo: repo, logger: logger}
}

// Start creates a session with a random id
func (s *SessionService) Start(ctx context.Context, channel entities.Channel, language string) (*entities.Session, error) {
	session := entities.NewSession(channel, language)
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Session started",
		zap.String("sessionID", session.ID),
		zap.String("channel", string(channel)))

	return session, nil
}

// Resume returns an active session, or domain.ErrSessionExpired once it lapsed
func (s *SessionService) Resume(ctx context.Context, id string) (*entities.Session, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsExpired() {
		return nil, domain.ErrSessionExpired
	}
	return session, nil
}

// Ensure returns the session for an id owned by the front-end, creating or
// renewing it as needed. Chat bots use the chat user id this way.
func (s *SessionService) Ensure(ctx context.Context, id string, channel entities.Channel, language string) (*entities.Session, error) {
	session, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		session = entities.NewSessionWithID(id, channel, language)
		if err := s.repo.Create(ctx, session); err != nil {
			// a concurrent first message created it
			if errors.Is(err, domain.ErrSessionExists) {
				return s.repo.GetByID(ctx, id)
			}
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		s.logger.Info("Session started",
			zap.String("sessionID", session.ID),
			zap.String("channel", string(channel)))
		return session, nil
	}
	if err != nil {
		return nil, err
	}

	if session.IsExpired() {
		session.Renew()
		if err := s.repo.Update(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to renew session: %w", err)
		}
		s.logger.Info("Session renewed", zap.String("sessionID", session.ID))
	}
	return session, nil
}

// RecordTurn counts a finished turn on the session and extends its expiration.
// Failures are logged only; the turn result is already final.
func (s *SessionService) RecordTurn(ctx context.Context, id string) {
	if err := s.repo.RecordTurn(ctx, id); err != nil {
		s.logger.Warn("Failed to record turn on session", zap.String("sessionID", id), zap.Error(err))
	}
}

// Sweep deletes expired sessions
func (s *SessionService) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx)
}
