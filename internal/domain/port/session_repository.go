package port

import (
	"context"

	"pest-scan/internal/domain/entity"
)

// SessionRepository интерфейс хранилища сессий сканирования
type SessionRepository interface {
	// Create регистрирует новую сессию
	Create(ctx context.Context, session *entity.ScanSession) error

	// Get возвращает сессию по ID или entity.ErrSessionNotFound
	Get(ctx context.Context, id string) (*entity.ScanSession, error)

	// Delete удаляет сессию
	Delete(ctx context.Context, id string) error
}

// PreviewStore интерфейс хранилища превью
type PreviewStore interface {
	// Create выдаёт новую отзываемую ссылку на байты
	Create(ctx context.Context, data []byte, mediaType string) (entity.PreviewHandle, error)

	// Open возвращает байты по действующей ссылке
	Open(ctx context.Context, id string) (data []byte, mediaType string, err error)

	// Revoke отзывает ссылку; повторный отзыв возвращает ошибку
	Revoke(ctx context.Context, handle entity.PreviewHandle) error
}
