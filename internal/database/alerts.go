package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cointrack/internal/model"
)

// AlertRepository stores price alerts and their trigger state.
type AlertRepository interface {
	Create(ctx context.Context, alert model.PriceAlert) error
	ListByUser(ctx context.Context, userID string) ([]model.PriceAlert, error)
	ListActiveByCoin(ctx context.Context, coinID string) ([]model.PriceAlert, error)
	// MarkTriggered flips an active alert to triggered. Marking an already
	// triggered alert is a no-op, which keeps firing idempotent.
	MarkTriggered(ctx context.Context, alertID string, triggeredAt time.Time) error
	// Reset re-arms a triggered alert.
	Reset(ctx context.Context, alertID string) error
	Delete(ctx context.Context, alertID string) error
}

// PostgresAlertRepository implements AlertRepository on a pgx pool.
type PostgresAlertRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresAlertRepository(pool *pgxpool.Pool) *PostgresAlertRepository {
	return &PostgresAlertRepository{Pool: pool}
}

func (r *PostgresAlertRepository) Create(ctx context.Context, alert model.PriceAlert) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO price_alerts (id, user_id, coin_id, target_price, type, state, created_at, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.UserID, alert.CoinID, alert.TargetPrice.String(),
		string(alert.Type), string(alert.State), alert.CreatedAt, alert.TriggeredAt)
	if err != nil {
		return fmt.Errorf("%w: create alert: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresAlertRepository) ListByUser(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return r.list(ctx, `
		SELECT id, user_id, coin_id, target_price::text, type, state, created_at, triggered_at
		FROM price_alerts
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
}

func (r *PostgresAlertRepository) ListActiveByCoin(ctx context.Context, coinID string) ([]model.PriceAlert, error) {
	return r.list(ctx, `
		SELECT id, user_id, coin_id, target_price::text, type, state, created_at, triggered_at
		FROM price_alerts
		WHERE coin_id = $1 AND state = 'ACTIVE'
		ORDER BY created_at`, coinID)
}

func (r *PostgresAlertRepository) list(ctx context.Context, query string, arg any) ([]model.PriceAlert, error) {
	rows, err := r.Pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%w: list alerts: %v", model.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var alerts []model.PriceAlert
	for rows.Next() {
		var (
			alert             model.PriceAlert
			target, typ, state string
		)
		if err := rows.Scan(&alert.ID, &alert.UserID, &alert.CoinID, &target, &typ, &state, &alert.CreatedAt, &alert.TriggeredAt); err != nil {
			return nil, fmt.Errorf("%w: scan alert: %v", model.ErrStoreUnavailable, err)
		}
		alert.Type = model.AlertType(typ)
		alert.State = model.AlertState(state)
		if alert.TargetPrice, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("parse target price: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list alerts: %v", model.ErrStoreUnavailable, err)
	}
	return alerts, nil
}

func (r *PostgresAlertRepository) MarkTriggered(ctx context.Context, alertID string, triggeredAt time.Time) error {
	_, err := r.Pool.Exec(ctx, `
		UPDATE price_alerts
		SET state = 'TRIGGERED', triggered_at = $2
		WHERE id = $1 AND state = 'ACTIVE'`, alertID, triggeredAt)
	if err != nil {
		return fmt.Errorf("%w: mark triggered: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresAlertRepository) Reset(ctx context.Context, alertID string) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE price_alerts
		SET state = 'ACTIVE', triggered_at = NULL
		WHERE id = $1`, alertID)
	if err != nil {
		return fmt.Errorf("%w: reset alert: %v", model.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlertNotFound
	}
	return nil
}

func (r *PostgresAlertRepository) Delete(ctx context.Context, alertID string) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM price_alerts WHERE id = $1`, alertID)
	if err != nil {
		return fmt.Errorf("%w: delete alert: %v", model.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlertNotFound
	}
	return nil
}
