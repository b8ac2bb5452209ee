package repositories

import (
	"context"

	"github.com/vocalis/server/domain/entities"
)

// SessionRepository stores the sessions issued to front-end users
type SessionRepository interface {
	Create(ctx context.Context, session *entities.Session) error
	// GetByID returns domain.ErrSessionNotFound for unknown ids
	GetByID(ctx context.Context, id string) (*entities.Session, error)
	Update(ctx context.Context, session *entities.Session) error
	// RecordTurn atomically counts one turn and extends the expiration
	RecordTurn(ctx context.Context, id string) error
	// DeleteExpired removes sessions whose expiration passed and returns how many
	DeleteExpired(ctx context.Context) (int64, error)
}
