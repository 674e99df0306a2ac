package notify

import (
	"context"
	"log/slog"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Notifier delivers best-effort user notifications. Delivery failures are a
// UX concern, not a correctness concern: callers log and move on.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// LogNotifier writes notifications to the structured log. It stands in for a
// real push delivery channel.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, title, body string) error {
	n.logger.Info("notification", "title", title, "body", body)
	return nil
}

// FormatUSD renders a decimal amount as a display currency string, e.g. "$1,234.56".
func FormatUSD(amount decimal.Decimal) string {
	return money.NewFromFloat(amount.InexactFloat64(), money.USD).Display()
}
