package file

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SnapshotStore хранит снапшоты корзин в JSON-файлах, по файлу на ключ.
// Запись атомарная: временный файл плюс переименование, чтобы упавший
// процесс не оставил полузаписанный снапшот.
type SnapshotStore struct {
	dir string
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore создаёт файловое хранилище снапшотов в каталоге dir.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

// Load читает снапшот по ключу. Отсутствующий файл — пустая корзина,
// не ошибка; нечитаемый JSON — ErrSnapshotCorrupt.
func (s *SnapshotStore) Load(_ context.Context, key string) ([]domain.LineItem, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var items []domain.LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotCorrupt, err)
	}
	return items, nil
}

// Save перезаписывает снапшот целиком.
func (s *SnapshotStore) Save(_ context.Context, key string, items []domain.LineItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// path строит путь к файлу снапшота; ключ экранируется, чтобы
// произвольный ключ сессии не вышел за пределы каталога.
func (s *SnapshotStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}
