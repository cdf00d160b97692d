package preview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

var (
	// ErrHandleNotFound ссылка не выдавалась или давно забыта
	ErrHandleNotFound = errors.New("preview handle not found")
	// ErrHandleRevoked ссылка уже отозвана
	ErrHandleRevoked = errors.New("preview handle already revoked")
)

// tombstoneTTL сколько помним отозванные ссылки, чтобы отличать повторный отзыв
const tombstoneTTL = 10 * time.Minute

type entry struct {
	data      []byte
	mediaType string
}

type tombstone struct{}

// CacheStore хранит байты превью в go-cache до явного отзыва
type CacheStore struct {
	mu      sync.Mutex
	items   *cache.Cache
	baseURL string
}

// NewCacheStore создаёт хранилище. baseURL — префикс адреса, по которому отдаются превью.
// cleanup > 0 включает фоновую очистку отозванных ссылок.
func NewCacheStore(baseURL string, cleanup time.Duration) *CacheStore {
	return &CacheStore{
		items:   cache.New(cache.NoExpiration, cleanup),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Create выдаёт новую ссылку на копию data
func (s *CacheStore) Create(ctx context.Context, data []byte, mediaType string) (entity.PreviewHandle, error) {
	id := uuid.NewString()
	s.items.Set(id, &entry{
		data:      append([]byte(nil), data...),
		mediaType: mediaType,
	}, cache.NoExpiration)

	return entity.PreviewHandle{
		ID:  id,
		URL: s.baseURL + "/previews/" + id,
	}, nil
}

// Open возвращает байты по действующей ссылке
func (s *CacheStore) Open(ctx context.Context, id string) ([]byte, string, error) {
	item, ok := s.items.Get(id)
	if !ok {
		return nil, "", ErrHandleNotFound
	}

	switch v := item.(type) {
	case *entry:
		return v.data, v.mediaType, nil
	case tombstone:
		return nil, "", ErrHandleRevoked
	default:
		return nil, "", ErrHandleNotFound
	}
}

// Revoke освобождает байты. Повторный отзыв возвращает ErrHandleRevoked.
func (s *CacheStore) Revoke(ctx context.Context, handle entity.PreviewHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items.Get(handle.ID)
	if !ok {
		return ErrHandleNotFound
	}
	if _, revoked := item.(tombstone); revoked {
		return ErrHandleRevoked
	}

	s.items.Set(handle.ID, tombstone{}, tombstoneTTL)
	return nil
}

// Live возвращает число неотозванных ссылок
func (s *CacheStore) Live() int {
	live := 0
	for _, item := range s.items.Items() {
		if _, ok := item.Object.(*entry); ok {
			live++
		}
	}
	return live
}

// Проверка реализации интерфейса
var _ port.PreviewStore = (*CacheStore)(nil)
