package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the status of a session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusTerminated SessionStatus = "terminated"
)

// DefaultSessionTTL is how long an idle session stays usable
const DefaultSessionTTL = 24 * time.Hour

// Session groups the turns of one user on one front-end.
// Turns never share state through it; it only scopes artifacts and logs.
type Session struct {
	ID           string        `json:"id" bson:"_id"`
	Channel      Channel       `json:"channel" bson:"channel"`
	Language     string        `json:"language" bson:"language"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at" bson:"last_active_at"`
	ExpiresAt    time.Time     `json:"expires_at" bson:"expires_at"`
	Status       SessionStatus `json:"status" bson:"status"`
	TurnCount    int           `json:"turn_count" bson:"turn_count"`
}

// NewSession creates a new active session with a random id
func NewSession(channel Channel, language string) *Session {
	return NewSessionWithID(uuid.NewString(), channel, language)
}

// NewSessionWithID creates a session for an id owned by the front-end, such as a chat user
func NewSessionWithID(id string, channel Channel, language string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Channel:      channel,
		Language:     language,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(DefaultSessionTTL),
		Status:       SessionStatusActive,
	}
}

// RecordTurn counts a finished turn and extends the expiration
func (s *Session) RecordTurn() {
	s.TurnCount++
	s.UpdateLastActive()
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (s *Session) UpdateLastActive() {
	s.LastActiveAt = time.Now()
	s.ExpiresAt = s.LastActiveAt.Add(DefaultSessionTTL)
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt) || s.Status != SessionStatusActive
}

// IdleFor reports how long the session has been without activity
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActiveAt)
}

// Terminate marks the session as terminated
func (s *Session) Terminate() {
	s.Status = SessionStatusTerminated
}

// Renew makes an expired session usable again, for front-ends that own their ids
func (s *Session) Renew() {
	s.Status = SessionStatusActive
	s.UpdateLastActive()
}

// Expire marks the session as expired
func (s *Session) Expire() {
	s.Status = SessionStatusExpired
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}

	switch s.Channel {
	case ChannelWeb, ChannelWebSocket, ChannelTelegram:
	default:
		return errors.New("invalid session channel")
	}

	if s.Status != SessionStatusActive && s.Status != SessionStatusExpired && s.Status != SessionStatusTerminated {
		return errors.New("invalid session status")
	}

	return nil
}
