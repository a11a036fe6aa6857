package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type snapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore создаёт PostgreSQL-реализацию SnapshotStore.
// Снапшот хранится построчно: позиция корзины — строка таблицы,
// порядок добавления фиксируется колонкой position.
func NewSnapshotStore(store *Store) domain.SnapshotStore {
	return &snapshotStore{db: store.DB()}
}

func (r *snapshotStore) Load(ctx context.Context, key string) ([]domain.LineItem, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(queryCtx, `
		SELECT item_id, name, price_minor, quantity
		FROM cart_snapshots
		WHERE cart_key = $1
		ORDER BY position ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("load cart snapshot: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceMinor, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan snapshot line: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot lines: %w", err)
	}

	return items, nil
}

func (r *snapshotStore) Save(ctx context.Context, key string, items []domain.LineItem) error {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(queryCtx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Снапшот — последняя известная правда целиком: перезаписываем все строки ключа.
	if _, err = tx.ExecContext(queryCtx, `
		DELETE FROM cart_snapshots WHERE cart_key = $1
	`, key); err != nil {
		return fmt.Errorf("clear previous snapshot: %w", err)
	}

	now := time.Now().UTC()
	for position, item := range items {
		if _, err = tx.ExecContext(queryCtx, `
			INSERT INTO cart_snapshots (
				cart_key, position, item_id, name, price_minor, quantity, saved_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, key, position, item.ID, item.Name, item.PriceMinor, item.Quantity, now); err != nil {
			return fmt.Errorf("insert snapshot line: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cart snapshot: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.SnapshotStore = (*snapshotStore)(nil)
