package cart

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Factory создаёт корзину для ключа сессии.
type Factory func(ctx context.Context, key string) *Store

// Registry выдаёт по ключу сессии ровно одну корзину на процесс.
// Синхронизация между вкладками или инстансами не предусмотрена.
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*Store
	factory Factory
	metrics *metrics.StorefrontMetrics
}

// NewRegistry создаёт реестр корзин поверх фабрики.
func NewRegistry(factory Factory, m *metrics.StorefrontMetrics) *Registry {
	return &Registry{
		stores:  make(map[string]*Store),
		factory: factory,
		metrics: m,
	}
}

// GetOrCreate возвращает корзину сессии, создавая её при первом обращении.
func (r *Registry) GetOrCreate(ctx context.Context, key string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if store, ok := r.stores[key]; ok {
		return store
	}

	store := r.factory(ctx, key)
	r.stores[key] = store
	if r.metrics != nil {
		r.metrics.RecordCartSessionStarted()
	}
	return store
}

// Len возвращает количество живых корзин.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
