package storage

import (
	"context"
	"fmt"
	"sync"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

// MemorySessionRepository in-memory хранилище сессий
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entity.ScanSession
}

// NewMemorySessionRepository создаёт новое in-memory хранилище
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entity.ScanSession),
	}
}

// Create сохраняет новую сессию
func (r *MemorySessionRepository) Create(ctx context.Context, session *entity.ScanSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	r.sessions[session.ID] = session

	return nil
}

// Get возвращает сессию по ID
func (r *MemorySessionRepository) Get(ctx context.Context, id string) (*entity.ScanSession, error) {
	r.mu.RLock()
	session, exists := r.sessions[id]
	r.mu.RUnlock()

	if !exists {
		return nil, entity.ErrSessionNotFound
	}

	return session, nil
}

// Delete удаляет сессию
func (r *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	return nil
}

// Проверка реализации интерфейса
var _ port.SessionRepository = (*MemorySessionRepository)(nil)
