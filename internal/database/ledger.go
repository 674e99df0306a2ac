package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cointrack/internal/model"
)

// LedgerRepository is the durable record of trades and cash balances.
// Transactions are append-only; balances are keyed by user.
type LedgerRepository interface {
	AppendTransaction(ctx context.Context, tx model.Transaction) error
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	// ApplyTrade appends the transaction and updates the balance atomically:
	// either both apply or neither does.
	ApplyTrade(ctx context.Context, tx model.Transaction, newBalance decimal.Decimal) error
	// ResetUser wipes the user's ledger and restores the initial balance.
	ResetUser(ctx context.Context, userID string) error
}

// PostgresLedgerRepository implements LedgerRepository on a pgx pool.
type PostgresLedgerRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresLedgerRepository(pool *pgxpool.Pool) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{Pool: pool}
}

const insertTransactionSQL = `
	INSERT INTO transactions (id, user_id, coin_id, type, quantity, price_per_coin, fee, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (r *PostgresLedgerRepository) AppendTransaction(ctx context.Context, tx model.Transaction) error {
	_, err := r.Pool.Exec(ctx, insertTransactionSQL,
		tx.ID, tx.UserID, tx.CoinID, string(tx.Type),
		tx.Quantity.String(), tx.PricePerCoin.String(), tx.Fee.String(), tx.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: append transaction: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresLedgerRepository) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, user_id, coin_id, type, quantity::text, price_per_coin::text, fee::text, timestamp
		FROM transactions
		WHERE user_id = $1
		ORDER BY timestamp`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var (
			tx                 model.Transaction
			txType             string
			quantity, price, fee string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.CoinID, &txType, &quantity, &price, &fee, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", model.ErrStoreUnavailable, err)
		}
		tx.Type = model.TransactionType(txType)
		if tx.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if tx.PricePerCoin, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if tx.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("parse fee: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", model.ErrStoreUnavailable, err)
	}
	return txs, nil
}

// GetBalance returns the user's cash balance, initializing it to the starting
// amount on first access.
func (r *PostgresLedgerRepository) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO balances (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, model.InitialBalance.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: init balance: %v", model.ErrStoreUnavailable, err)
	}

	var raw string
	err = r.Pool.QueryRow(ctx, `SELECT balance::text FROM balances WHERE user_id = $1`, userID).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: get balance: %v", model.ErrStoreUnavailable, err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresLedgerRepository) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO balances (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance`,
		userID, balance.String())
	if err != nil {
		return fmt.Errorf("%w: set balance: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresLedgerRepository) ApplyTrade(ctx context.Context, tx model.Transaction, newBalance decimal.Decimal) error {
	err := pgx.BeginFunc(ctx, r.Pool, func(dbtx pgx.Tx) error {
		if _, err := dbtx.Exec(ctx, insertTransactionSQL,
			tx.ID, tx.UserID, tx.CoinID, string(tx.Type),
			tx.Quantity.String(), tx.PricePerCoin.String(), tx.Fee.String(), tx.Timestamp); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		if _, err := dbtx.Exec(ctx, `
			INSERT INTO balances (user_id, balance) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance`,
			tx.UserID, newBalance.String()); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: apply trade: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresLedgerRepository) ResetUser(ctx context.Context, userID string) error {
	err := pgx.BeginFunc(ctx, r.Pool, func(dbtx pgx.Tx) error {
		if _, err := dbtx.Exec(ctx, `DELETE FROM transactions WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err := dbtx.Exec(ctx, `
			INSERT INTO balances (user_id, balance) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance`,
			userID, model.InitialBalance.String())
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: reset user: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}
