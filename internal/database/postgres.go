package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the schema if it does not exist. Money columns are NUMERIC
// and are read and written as text to keep decimal arithmetic exact.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		type VARCHAR(4) NOT NULL,
		quantity NUMERIC(30, 12) NOT NULL,
		price_per_coin NUMERIC(30, 12) NOT NULL,
		fee NUMERIC(30, 12) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, timestamp);

	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT PRIMARY KEY,
		balance NUMERIC(30, 12) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_alerts (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		target_price NUMERIC(30, 12) NOT NULL,
		type VARCHAR(5) NOT NULL,
		state VARCHAR(9) NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		triggered_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_price_alerts_coin ON price_alerts (coin_id, state);

	CREATE TABLE IF NOT EXISTS watchlist (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, coin_id)
	);`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
