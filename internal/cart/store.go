package cart

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// DefaultSnapshotKey — ключ снапшота корзины по умолчанию.
// Совпадает с ключом исходной витрины.
const DefaultSnapshotKey = "santuarioSecretCart"

// Options задаёт необязательные зависимости Store.
type Options struct {
	Logger   *log.Entry
	Timeline domain.TimelineRepository
	Metrics  *metrics.StorefrontMetrics
}

// Option настраивает Store.
type Option func(*Options)

// WithLogger задаёт logger для корзины.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTimeline подключает журнал активности корзины.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(opts *Options) {
		opts.Timeline = timeline
	}
}

// WithMetrics подключает метрики операций корзины.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// Store владеет упорядоченным набором позиций одной корзины.
// Все мутации проходят через него; каждая мутация заканчивается
// best-effort записью снапшота.
type Store struct {
	mu        sync.Mutex
	key       string
	items     []domain.LineItem
	snapshots domain.SnapshotStore
	timeline  domain.TimelineRepository
	logger    *log.Entry
	metrics   *metrics.StorefrontMetrics
}

// NewStore создаёт корзину и восстанавливает её из снапшота.
// Отсутствующий или нечитаемый снапшот даёт пустую корзину, не ошибку.
func NewStore(ctx context.Context, key string, snapshots domain.SnapshotStore, options ...Option) *Store {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	if key == "" {
		key = DefaultSnapshotKey
	}

	s := &Store{
		key:       key,
		snapshots: snapshots,
		timeline:  opts.Timeline,
		logger:    logger.WithField("cart_key", key),
		metrics:   opts.Metrics,
	}
	s.restore(ctx)
	return s
}

// restore загружает снапшот; любая проблема заменяется пустой корзиной.
func (s *Store) restore(ctx context.Context) {
	if s.snapshots == nil {
		return
	}

	items, err := s.snapshots.Load(ctx, s.key)
	if err != nil {
		s.logger.WithError(err).Warn("snapshot unreadable, starting with an empty cart")
		s.recordLoadFallback()
		return
	}
	if err := domain.ValidateItems(items); err != nil {
		s.logger.WithError(err).Warn("snapshot holds invalid items, starting with an empty cart")
		s.recordLoadFallback()
		return
	}
	s.items = items
}

// Key возвращает ключ снапшота корзины.
func (s *Store) Key() string {
	return s.key
}

// Add добавляет товар: существующая позиция получает +1 к количеству,
// имя и цена остаются зафиксированными на момент первого добавления.
// Возвращает подтверждение для пользователя.
func (s *Store) Add(ctx context.Context, id, name string, priceMinor int64) (string, error) {
	if id == "" {
		return "", domain.ErrItemIDRequired
	}
	if name == "" {
		return "", domain.ErrItemNameRequired
	}
	if priceMinor < 0 {
		return "", domain.ErrItemPriceInvalid
	}

	s.mu.Lock()
	found := false
	ackName := name
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Quantity++
			ackName = s.items[i].Name
			found = true
			break
		}
	}
	if !found {
		s.items = append(s.items, domain.LineItem{
			ID:         id,
			Name:       name,
			PriceMinor: priceMinor,
			Quantity:   1,
		})
	}
	s.mu.Unlock()

	s.persist(ctx)
	s.appendTimeline(domain.TimelineItemAdded, ackName)
	if s.metrics != nil {
		s.metrics.RecordCartAdd()
	}

	return fmt.Sprintf("%q ha sido añadido a tu Santuario.", ackName), nil
}

// Decrement уменьшает количество на 1; позиция с нулевым остатком
// удаляется целиком. Неизвестный id — no-op, не ошибка.
func (s *Store) Decrement(ctx context.Context, id string) {
	s.mu.Lock()
	var removedName string
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		removedName = s.items[i].Name
		s.items[i].Quantity--
		if s.items[i].Quantity < 1 {
			s.items = append(s.items[:i], s.items[i+1:]...)
		}
		break
	}
	s.mu.Unlock()

	s.persist(ctx)
	if removedName != "" {
		s.appendTimeline(domain.TimelineItemDecremented, removedName)
		if s.metrics != nil {
			s.metrics.RecordCartDecrement()
		}
	}
}

// Clear опустошает корзину безусловно. Используется путём успешного оформления.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()

	s.persist(ctx)
	s.appendTimeline(domain.TimelineCartCleared, "")
	if s.metrics != nil {
		s.metrics.RecordCartClear()
	}
}

// Items возвращает копию позиций в порядке добавления.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneItems(s.items)
}

// Totals пересчитывает производные значения с нуля при каждом вызове.
func (s *Store) Totals() (totalItems int32, totalPriceMinor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Totals(s.items)
}

// Empty сообщает, пуста ли корзина.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

// persist перезаписывает снапшот целиком. Слой best-effort: отказ носителя
// логируется и не прерывает работу витрины.
func (s *Store) persist(ctx context.Context) {
	if s.snapshots == nil {
		return
	}

	if err := s.snapshots.Save(ctx, s.key, s.Items()); err != nil {
		s.logger.WithError(err).Warn("failed to save cart snapshot")
		if s.metrics != nil {
			s.metrics.RecordSnapshotSaveFailure()
		}
	}
}

func (s *Store) appendTimeline(eventType, detail string) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.Append(domain.TimelineEvent{
		CartKey: s.key,
		Type:    eventType,
		Detail:  detail,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to append cart timeline event")
	}
}

func (s *Store) recordLoadFallback() {
	if s.metrics != nil {
		s.metrics.RecordSnapshotLoadFallback()
	}
}
