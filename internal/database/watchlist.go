package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cointrack/internal/model"
)

// WatchlistRepository stores which coins a user has pinned.
type WatchlistRepository interface {
	Add(ctx context.Context, userID, coinID string, addedAt time.Time) error
	Remove(ctx context.Context, userID, coinID string) error
	ListByUser(ctx context.Context, userID string) ([]model.WatchlistItem, error)
	Contains(ctx context.Context, userID, coinID string) (bool, error)
}

// PostgresWatchlistRepository implements WatchlistRepository on a pgx pool.
type PostgresWatchlistRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresWatchlistRepository(pool *pgxpool.Pool) *PostgresWatchlistRepository {
	return &PostgresWatchlistRepository{Pool: pool}
}

// Add is idempotent: re-adding a coin already on the watchlist is a no-op.
func (r *PostgresWatchlistRepository) Add(ctx context.Context, userID, coinID string, addedAt time.Time) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO watchlist (user_id, coin_id, added_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, coin_id) DO NOTHING`, userID, coinID, addedAt)
	if err != nil {
		return fmt.Errorf("%w: add to watchlist: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresWatchlistRepository) Remove(ctx context.Context, userID, coinID string) error {
	_, err := r.Pool.Exec(ctx, `DELETE FROM watchlist WHERE user_id = $1 AND coin_id = $2`, userID, coinID)
	if err != nil {
		return fmt.Errorf("%w: remove from watchlist: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresWatchlistRepository) ListByUser(ctx context.Context, userID string) ([]model.WatchlistItem, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, user_id, coin_id, added_at
		FROM watchlist
		WHERE user_id = $1
		ORDER BY added_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list watchlist: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var items []model.WatchlistItem
	for rows.Next() {
		var item model.WatchlistItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.CoinID, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("%w: scan watchlist item: %v", model.ErrStoreUnavailable, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list watchlist: %v", model.ErrStoreUnavailable, err)
	}
	return items, nil
}

func (r *PostgresWatchlistRepository) Contains(ctx context.Context, userID, coinID string) (bool, error) {
	var exists bool
	err := r.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM watchlist WHERE user_id = $1 AND coin_id = $2)`,
		userID, coinID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: watchlist lookup: %v", model.ErrStoreUnavailable, err)
	}
	return exists, nil
}
