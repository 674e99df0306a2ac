package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"cointrack/internal/database"
	"cointrack/internal/market"
	"cointrack/internal/model"
	"cointrack/internal/notify"
)

var tradesExecuted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trades_executed_total",
		Help: "Total number of simulated trades applied to the ledger",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(tradesExecuted)
}

// Service executes simulated trades and serves portfolio snapshots.
//
// Buy and sell are read-modify-write on the user's cash balance, so the
// service serializes trades per user: two concurrent trades on the same
// account cannot double-spend the same cash.
type Service struct {
	logger   *slog.Logger
	ledger   database.LedgerRepository
	feed     market.Feed
	notifier notify.Notifier

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewService(logger *slog.Logger, ledger database.LedgerRepository, feed market.Feed, notifier notify.Notifier) *Service {
	return &Service{
		logger:    logger,
		ledger:    ledger,
		feed:      feed,
		notifier:  notifier,
		userLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

// Buy purchases quantity of a coin at the current feed price, debiting cash.
// Fails with ErrInsufficientFunds when cost plus fee exceeds the balance;
// the ledger and balance are left untouched on any failure.
func (s *Service) Buy(ctx context.Context, userID, coinID string, quantity, fee decimal.Decimal) (model.Transaction, error) {
	if !quantity.IsPositive() || fee.IsNegative() {
		return model.Transaction{}, model.ErrInvalidTrade
	}

	coin, err := s.feed.GetCoin(ctx, coinID)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("resolve price for %s: %w", coinID, err)
	}
	price := coin.CurrentPrice
	if !price.IsPositive() {
		return model.Transaction{}, fmt.Errorf("resolve price for %s: %w", coinID, model.ErrPriceUnavailable)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return model.Transaction{}, err
	}

	cost := quantity.Mul(price).Add(fee)
	if balance.LessThan(cost) {
		return model.Transaction{}, model.ErrInsufficientFunds
	}

	tx := model.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		CoinID:       coinID,
		Type:         model.TransactionBuy,
		Quantity:     quantity,
		PricePerCoin: price,
		Fee:          fee,
		Timestamp:    time.Now(),
	}
	if err := s.ledger.ApplyTrade(ctx, tx, balance.Sub(cost)); err != nil {
		return model.Transaction{}, err
	}
	tradesExecuted.WithLabelValues("buy").Inc()

	s.logger.Info("buy executed",
		"user", userID,
		"coin", coinID,
		"quantity", quantity,
		"price", price,
		"cost", cost,
	)
	title := fmt.Sprintf("Purchase complete: %s", coin.Symbol)
	body := fmt.Sprintf("Bought %s %s at %s for %s", quantity, coin.Symbol, notify.FormatUSD(price), notify.FormatUSD(cost))
	if err := s.notifier.Notify(ctx, title, body); err != nil {
		s.logger.Warn("purchase notification failed", "user", userID, "error", err)
	}

	return tx, nil
}

// Sell disposes quantity of a held coin at the current feed price, crediting
// cash with the proceeds minus the fee. Fails with ErrInsufficientHoldings
// when the quantity exceeds the net held amount; state is untouched on failure.
func (s *Service) Sell(ctx context.Context, userID, coinID string, quantity, fee decimal.Decimal) (model.Transaction, error) {
	if !quantity.IsPositive() || fee.IsNegative() {
		return model.Transaction{}, model.ErrInvalidTrade
	}

	coin, err := s.feed.GetCoin(ctx, coinID)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("resolve price for %s: %w", coinID, err)
	}
	price := coin.CurrentPrice
	if !price.IsPositive() {
		return model.Transaction{}, fmt.Errorf("resolve price for %s: %w", coinID, model.ErrPriceUnavailable)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	txs, err := s.ledger.ListTransactions(ctx, userID)
	if err != nil {
		return model.Transaction{}, err
	}
	if NetQuantity(txs, coinID).LessThan(quantity) {
		return model.Transaction{}, model.ErrInsufficientHoldings
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return model.Transaction{}, err
	}

	tx := model.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		CoinID:       coinID,
		Type:         model.TransactionSell,
		Quantity:     quantity,
		PricePerCoin: price,
		Fee:          fee,
		Timestamp:    time.Now(),
	}
	proceeds := quantity.Mul(price).Sub(fee)
	if err := s.ledger.ApplyTrade(ctx, tx, balance.Add(proceeds)); err != nil {
		return model.Transaction{}, err
	}
	tradesExecuted.WithLabelValues("sell").Inc()

	s.logger.Info("sell executed",
		"user", userID,
		"coin", coinID,
		"quantity", quantity,
		"price", price,
		"proceeds", proceeds,
	)
	return tx, nil
}

// Snapshot recomputes the user's portfolio from the ledger and current
// market prices. Coins without a price are reported as unvalued holdings
// rather than failing the read.
func (s *Service) Snapshot(ctx context.Context, userID string) (model.Portfolio, error) {
	txs, err := s.ledger.ListTransactions(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}

	prices := make(map[string]decimal.Decimal)
	coins, err := s.feed.ListCoins(ctx)
	if err != nil {
		// Degrade: holdings stay unvalued when no prices are available at all.
		s.logger.Warn("portfolio valuation degraded, no prices available", "user", userID, "error", err)
	}
	for _, coin := range coins {
		prices[coin.ID] = coin.CurrentPrice
	}

	lookup := func(coinID string) (decimal.Decimal, bool) {
		p, ok := prices[coinID]
		return p, ok
	}
	return Valuate(userID, txs, balance, lookup), nil
}

// TransactionHistory returns the user's ledger in chronological order.
func (s *Service) TransactionHistory(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.ledger.ListTransactions(ctx, userID)
}

// Reset wipes the user's ledger and restores the initial cash balance.
func (s *Service) Reset(ctx context.Context, userID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.ledger.ResetUser(ctx, userID)
}
