package repositories

import (
	"context"

	"github.com/vocalis/server/domain/entities"
)

// TurnRecorder keeps the outcome log of finished turns
type TurnRecorder interface {
	Record(ctx context.Context, record entities.TurnRecord) error
	Stats(ctx context.Context) (entities.TurnStats, error)
}
