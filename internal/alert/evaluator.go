package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"cointrack/internal/database"
	"cointrack/internal/model"
	"cointrack/internal/notify"
)

var (
	alertsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "price_alerts_triggered_total",
		Help: "Total number of price alerts that fired",
	})
	coinEvaluationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_coin_evaluation_errors_total",
		Help: "Total number of per-coin alert lookups that failed during evaluation",
	})
)

func init() {
	prometheus.MustRegister(alertsTriggered)
	prometheus.MustRegister(coinEvaluationErrors)
}

// Evaluator scans active price alerts against market snapshots and fires the
// ones whose threshold is crossed. Firing is one-shot: a triggered alert is
// excluded from evaluation until the user resets it.
type Evaluator struct {
	logger   *slog.Logger
	alerts   database.AlertRepository
	notifier notify.Notifier
}

func NewEvaluator(logger *slog.Logger, alerts database.AlertRepository, notifier notify.Notifier) *Evaluator {
	return &Evaluator{logger: logger, alerts: alerts, notifier: notifier}
}

// Evaluate checks every coin's active alerts against its current price and
// returns the triggers that fired. A lookup failure for one coin does not
// abort the others: the error is logged and evaluation continues, so the
// result may be partial.
func (e *Evaluator) Evaluate(ctx context.Context, coins []model.Coin) []model.AlertTrigger {
	var triggers []model.AlertTrigger
	for _, coin := range coins {
		alerts, err := e.alerts.ListActiveByCoin(ctx, coin.ID)
		if err != nil {
			coinEvaluationErrors.Inc()
			e.logger.Error("failed to load alerts for coin, skipping", "coin", coin.ID, "error", err)
			continue
		}
		for _, a := range alerts {
			if !a.ShouldTrigger(coin.CurrentPrice) {
				continue
			}
			triggeredAt := time.Now()
			if err := e.alerts.MarkTriggered(ctx, a.ID, triggeredAt); err != nil {
				e.logger.Error("failed to mark alert triggered", "alert", a.ID, "error", err)
				continue
			}
			alertsTriggered.Inc()

			trigger := model.AlertTrigger{
				Alert:          a,
				CurrentPrice:   coin.CurrentPrice,
				PriceChange24h: coin.PriceChangePercentage24h,
				TriggeredAt:    triggeredAt,
			}
			triggers = append(triggers, trigger)

			e.logger.Info("price alert fired",
				"alert", a.ID,
				"coin", a.CoinID,
				"type", a.Type,
				"target", a.TargetPrice,
				"price", coin.CurrentPrice,
			)
			e.sendNotification(ctx, trigger, coin)
		}
	}
	return triggers
}

func (e *Evaluator) sendNotification(ctx context.Context, trigger model.AlertTrigger, coin model.Coin) {
	direction := "above"
	if trigger.Alert.Type == model.AlertBelow {
		direction = "below"
	}
	title := fmt.Sprintf("Price alert: %s", coin.Symbol)
	body := fmt.Sprintf("%s is trading at %s, %s your target of %s",
		coin.Name, notify.FormatUSD(trigger.CurrentPrice), direction, notify.FormatUSD(trigger.Alert.TargetPrice))
	if err := e.notifier.Notify(ctx, title, body); err != nil {
		e.logger.Warn("alert notification failed", "alert", trigger.Alert.ID, "error", err)
	}
}

// CreateAlert validates and stores a new active alert.
func (e *Evaluator) CreateAlert(ctx context.Context, userID, coinID string, target decimal.Decimal, typ model.AlertType) (model.PriceAlert, error) {
	if !target.IsPositive() {
		return model.PriceAlert{}, fmt.Errorf("%w: target price must be positive", model.ErrInvalidAlert)
	}
	if typ != model.AlertAbove && typ != model.AlertBelow {
		return model.PriceAlert{}, fmt.Errorf("%w: unknown alert type %q", model.ErrInvalidAlert, typ)
	}
	alert := model.PriceAlert{
		ID:          uuid.NewString(),
		UserID:      userID,
		CoinID:      coinID,
		TargetPrice: target,
		Type:        typ,
		State:       model.AlertStateActive,
		CreatedAt:   time.Now(),
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		return model.PriceAlert{}, err
	}
	return alert, nil
}

// ListAlerts returns all of a user's alerts, newest first.
func (e *Evaluator) ListAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return e.alerts.ListByUser(ctx, userID)
}

// ResetAlert re-arms a triggered alert so it can fire again.
func (e *Evaluator) ResetAlert(ctx context.Context, alertID string) error {
	return e.alerts.Reset(ctx, alertID)
}

// DeleteAlert removes an alert permanently.
func (e *Evaluator) DeleteAlert(ctx context.Context, alertID string) error {
	return e.alerts.Delete(ctx, alertID)
}
