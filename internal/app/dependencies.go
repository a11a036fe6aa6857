package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	filestore "github.com/vladislavdragonenkov/storefront/internal/storage/file"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// defaultCards — встроенный каталог на случай отсутствия файла каталога.
var defaultCards = []catalog.Card{
	{ID: "vela-negra", Name: "Vela Negra Ritual", Price: "7.50"},
	{ID: "incienso-lavanda", Name: "Incienso de Lavanda", Price: "4.25"},
	{ID: "cuarzo-rosa", Name: "Cuarzo Rosa", Price: "12.00"},
	{ID: "mazo-tarot", Name: "Mazo de Tarot", Price: "25.00"},
	{ID: "sal-negra", Name: "Sal Negra Protectora", Price: "5.75"},
}

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Catalog      *catalog.Catalog
	Snapshots    domain.SnapshotStore
	OutboxRepo   domain.OutboxRepository
	TimelineRepo domain.TimelineRepository
	IdemRepo     domain.IdempotencyRepository
	Metrics      *metrics.StorefrontMetrics
	Logger       *log.Entry

	pg *postgres.Store
}

// NewDependencies создаёт и инициализирует все зависимости приложения.
// Заданный DSN включает Postgres для всех репозиториев; иначе снапшоты
// живут в файлах (каталог cfg.SnapshotDir), остальное — в памяти.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Metrics: metrics.NewStorefrontMetrics(),
		Logger:  logger,
	}

	cat, err := loadCatalog(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	deps.Catalog = cat

	switch {
	case cfg.PostgresDSN != "":
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		deps.pg = store
		deps.Snapshots = postgres.NewSnapshotStore(store)
		deps.OutboxRepo = postgres.NewOutboxRepository(store)
		deps.TimelineRepo = postgres.NewTimelineRepository(store)
		deps.IdemRepo = postgres.NewIdempotencyRepository(store)
		logger.Info("storage backend: postgres")

	case cfg.SnapshotDir != "":
		snapshots, err := filestore.NewSnapshotStore(cfg.SnapshotDir)
		if err != nil {
			return nil, fmt.Errorf("init file snapshot store: %w", err)
		}
		deps.Snapshots = snapshots
		deps.OutboxRepo = memory.NewOutboxRepository()
		deps.TimelineRepo = memory.NewTimelineRepository()
		deps.IdemRepo = memory.NewIdempotencyRepository()
		logger.WithField("dir", cfg.SnapshotDir).Info("storage backend: file snapshots")

	default:
		deps.Snapshots = memory.NewSnapshotStore()
		deps.OutboxRepo = memory.NewOutboxRepository()
		deps.TimelineRepo = memory.NewTimelineRepository()
		deps.IdemRepo = memory.NewIdempotencyRepository()
		logger.Info("storage backend: in-memory")
	}

	return deps, nil
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() error {
	if d.pg != nil {
		return d.pg.Close()
	}
	return nil
}

// PostgresStore возвращает открытое Postgres-хранилище, если оно настроено.
func (d *Dependencies) PostgresStore() *postgres.Store {
	return d.pg
}

func loadCatalog(cfg Config, logger *log.Entry) (*catalog.Catalog, error) {
	catalogLogger := logger.WithField("component", "catalog")
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath, cfg.StrictPrices, catalogLogger)
	}
	return catalog.New(defaultCards, cfg.StrictPrices, catalogLogger)
}
