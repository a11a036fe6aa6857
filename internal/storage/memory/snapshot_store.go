package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// snapshotStoreInMemory — простая in-memory реализация SnapshotStore
// для локальной разработки и тестов.
type snapshotStoreInMemory struct {
	mu    sync.RWMutex
	items map[string][]domain.LineItem
}

// NewSnapshotStore создаёт in-memory хранилище снапшотов корзин.
func NewSnapshotStore() domain.SnapshotStore {
	return &snapshotStoreInMemory{
		items: make(map[string][]domain.LineItem),
	}
}

// Load возвращает копию снапшота; отсутствующий ключ — пустая корзина.
func (s *snapshotStoreInMemory) Load(_ context.Context, key string) ([]domain.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.CloneItems(s.items[key]), nil
}

// Save перезаписывает снапшот целиком.
func (s *snapshotStoreInMemory) Save(_ context.Context, key string, items []domain.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	s.items[key] = domain.CloneItems(items)
	return nil
}

var _ domain.SnapshotStore = (*snapshotStoreInMemory)(nil)
