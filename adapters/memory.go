package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/domain/repositories"
)

// MemorySessionRepository keeps sessions in process memory.
// It is the default when no MongoDB is configured.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entities.Session
}

var _ repositories.SessionRepository = (*MemorySessionRepository)(nil)

// NewMemorySessionRepository creates an empty repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entities.Session),
	}
}

// Create implements repositories.SessionRepository
func (m *MemorySessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return domain.ErrSessionExists
	}

	stored := *session
	m.sessions[session.ID] = &stored
	return nil
}

// GetByID implements repositories.SessionRepository
func (m *MemorySessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	// Return a copy to prevent external modification
	copied := *session
	return &copied, nil
}

// Update implements repositories.SessionRepository
func (m *MemorySessionRepository) Update(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return domain.ErrSessionNotFound
	}

	stored := *session
	m.sessions[session.ID] = &stored
	return nil
}

// RecordTurn implements repositories.SessionRepository
func (m *MemorySessionRepository) RecordTurn(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if !exists {
		return domain.ErrSessionNotFound
	}
	session.RecordTurn()
	return nil
}

// DeleteExpired implements repositories.SessionRepository
func (m *MemorySessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var deleted int64
	for id, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the number of stored sessions
func (m *MemorySessionRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// MemoryTurnRecorder keeps the most recent turn records in a ring
type MemoryTurnRecorder struct {
	mu      sync.RWMutex
	records []entities.TurnRecord
	limit   int
	stats   entities.TurnStats
}

var _ repositories.TurnRecorder = (*MemoryTurnRecorder)(nil)

// DefaultRecordLimit is how many records the memory recorder retains
const DefaultRecordLimit = 1000

// NewMemoryTurnRecorder creates a recorder keeping at most limit records.
// Stats count every record ever added.
func NewMemoryTurnRecorder(limit int) *MemoryTurnRecorder {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	return &MemoryTurnRecorder{
		limit: limit,
		stats: entities.NewTurnStats(),
	}
}

// Record implements repositories.TurnRecorder
func (m *MemoryTurnRecorder) Record(ctx context.Context, record entities.TurnRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, record)
	if len(m.records) > m.limit {
		m.records = m.records[len(m.records)-m.limit:]
	}
	m.stats.Add(record)
	return nil
}

// Stats implements repositories.TurnRecorder
func (m *MemoryTurnRecorder) Stats(ctx context.Context) (entities.TurnStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := entities.NewTurnStats()
	out.Total = m.stats.Total
	for k, v := range m.stats.ByStatus {
		out.ByStatus[k] = v
	}
	for k, v := range m.stats.ByFailure {
		out.ByFailure[k] = v
	}
	for k, v := range m.stats.ByChannel {
		out.ByChannel[k] = v
	}
	return out, nil
}

// Recent returns the retained records of a session, oldest first
func (m *MemoryTurnRecorder) Recent(sessionID string) []entities.TurnRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []entities.TurnRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}
