package portfolio

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"cointrack/internal/model"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) AppendTransaction(ctx context.Context, tx model.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockLedger) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	args := m.Called(ctx, userID)
	txs, _ := args.Get(0).([]model.Transaction)
	return txs, args.Error(1)
}

func (m *MockLedger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedger) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	args := m.Called(ctx, userID, balance)
	return args.Error(0)
}

func (m *MockLedger) ApplyTrade(ctx context.Context, tx model.Transaction, newBalance decimal.Decimal) error {
	args := m.Called(ctx, tx, newBalance)
	return args.Error(0)
}

func (m *MockLedger) ResetUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) ListCoins(ctx context.Context) ([]model.Coin, error) {
	args := m.Called(ctx)
	coins, _ := args.Get(0).([]model.Coin)
	return coins, args.Error(1)
}

func (m *MockFeed) GetCoin(ctx context.Context, id string) (model.Coin, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Coin), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, title, body string) error {
	args := m.Called(ctx, title, body)
	return args.Error(0)
}

func newTestService() (*Service, *MockLedger, *MockFeed, *MockNotifier) {
	ledger := new(MockLedger)
	feed := new(MockFeed)
	notifier := new(MockNotifier)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return NewService(logger, ledger, feed, notifier), ledger, feed, notifier
}

func equalDecimal(want string) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec(want))
	})
}

func TestService_Buy(t *testing.T) {
	ctx := context.Background()
	bitcoin := model.Coin{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: dec("100")}

	t.Run("debits cost plus fee and notifies", func(t *testing.T) {
		svc, ledger, feed, notifier := newTestService()
		feed.On("GetCoin", mock.Anything, "bitcoin").Return(bitcoin, nil)
		ledger.On("GetBalance", mock.Anything, "alice").Return(dec("10000"), nil)
		ledger.On("ApplyTrade", mock.Anything, mock.Anything, equalDecimal("9795")).Return(nil).Once()
		notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		tx, err := svc.Buy(ctx, "alice", "bitcoin", dec("2"), dec("5"))
		assert.NoError(t, err)
		assert.Equal(t, model.TransactionBuy, tx.Type)
		assert.True(t, tx.PricePerCoin.Equal(dec("100")))
		assert.True(t, tx.TotalAmount().Equal(dec("205")))
		assert.NotEmpty(t, tx.ID)
		ledger.AssertExpectations(t)
		notifier.AssertExpectations(t)
	})

	t.Run("insufficient funds leaves ledger untouched", func(t *testing.T) {
		svc, ledger, feed, _ := newTestService()
		feed.On("GetCoin", mock.Anything, "bitcoin").Return(bitcoin, nil)
		ledger.On("GetBalance", mock.Anything, "alice").Return(dec("150"), nil)

		_, err := svc.Buy(ctx, "alice", "bitcoin", dec("2"), dec("0"))
		assert.ErrorIs(t, err, model.ErrInsufficientFunds)
		ledger.AssertNotCalled(t, "ApplyTrade")
	})

	t.Run("exact balance is spendable", func(t *testing.T) {
		svc, ledger, feed, notifier := newTestService()
		feed.On("GetCoin", mock.Anything, "bitcoin").Return(bitcoin, nil)
		ledger.On("GetBalance", mock.Anything, "alice").Return(dec("205"), nil)
		ledger.On("ApplyTrade", mock.Anything, mock.Anything, equalDecimal("0")).Return(nil).Once()
		notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		_, err := svc.Buy(ctx, "alice", "bitcoin", dec("2"), dec("5"))
		assert.NoError(t, err)
		ledger.AssertExpectations(t)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		svc, _, feed, _ := newTestService()

		_, err := svc.Buy(ctx, "alice", "bitcoin", dec("0"), dec("0"))
		assert.ErrorIs(t, err, model.ErrInvalidTrade)
		feed.AssertNotCalled(t, "GetCoin")
	})

	t.Run("unknown coin", func(t *testing.T) {
		svc, ledger, feed, _ := newTestService()
		feed.On("GetCoin", mock.Anything, "nope").Return(model.Coin{}, model.ErrCoinNotFound)

		_, err := svc.Buy(ctx, "alice", "nope", dec("1"), dec("0"))
		assert.ErrorIs(t, err, model.ErrCoinNotFound)
		ledger.AssertNotCalled(t, "GetBalance")
	})
}

func TestService_Sell(t *testing.T) {
	ctx := context.Background()
	bitcoin := model.Coin{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: dec("120")}
	held := []model.Transaction{
		{CoinID: "bitcoin", Type: model.TransactionBuy, Quantity: dec("2"), PricePerCoin: dec("100")},
	}

	t.Run("credits proceeds minus fee", func(t *testing.T) {
		svc, ledger, feed, _ := newTestService()
		feed.On("GetCoin", mock.Anything, "bitcoin").Return(bitcoin, nil)
		ledger.On("ListTransactions", mock.Anything, "alice").Return(held, nil)
		ledger.On("GetBalance", mock.Anything, "alice").Return(dec("9800"), nil)
		// 1 * 120 - 2 in fees on top of 9800.
		ledger.On("ApplyTrade", mock.Anything, mock.Anything, equalDecimal("9918")).Return(nil).Once()

		tx, err := svc.Sell(ctx, "alice", "bitcoin", dec("1"), dec("2"))
		assert.NoError(t, err)
		assert.Equal(t, model.TransactionSell, tx.Type)
		ledger.AssertExpectations(t)
	})

	t.Run("insufficient holdings leaves ledger untouched", func(t *testing.T) {
		svc, ledger, feed, _ := newTestService()
		feed.On("GetCoin", mock.Anything, "bitcoin").Return(bitcoin, nil)
		ledger.On("ListTransactions", mock.Anything, "alice").Return(held, nil)

		_, err := svc.Sell(ctx, "alice", "bitcoin", dec("3"), dec("0"))
		assert.ErrorIs(t, err, model.ErrInsufficientHoldings)
		ledger.AssertNotCalled(t, "ApplyTrade")
	})

	t.Run("cannot sell a coin never bought", func(t *testing.T) {
		svc, ledger, feed, _ := newTestService()
		feed.On("GetCoin", mock.Anything, "bitcoin").Return(bitcoin, nil)
		ledger.On("ListTransactions", mock.Anything, "bob").Return(nil, nil)

		_, err := svc.Sell(ctx, "bob", "bitcoin", dec("1"), dec("0"))
		assert.ErrorIs(t, err, model.ErrInsufficientHoldings)
		ledger.AssertNotCalled(t, "ApplyTrade")
	})
}

func TestService_Snapshot(t *testing.T) {
	ctx := context.Background()
	txs := []model.Transaction{
		{CoinID: "bitcoin", Type: model.TransactionBuy, Quantity: dec("2"), PricePerCoin: dec("100"), Fee: dec("0")},
	}

	t.Run("values holdings at current prices", func(t *testing.T) {
		svc, ledger, feed, _ := newTestService()
		ledger.On("ListTransactions", mock.Anything, "alice").Return(txs, nil)
		ledger.On("GetBalance", mock.Anything, "alice").Return(dec("9800"), nil)
		feed.On("ListCoins", mock.Anything).Return([]model.Coin{
			{ID: "bitcoin", CurrentPrice: dec("150")},
		}, nil)

		p, err := svc.Snapshot(ctx, "alice")
		assert.NoError(t, err)
		assert.Len(t, p.Holdings, 1)
		assert.True(t, p.Holdings[0].Priced)
		assert.True(t, p.TotalPortfolioValue().Equal(dec("10100")))
	})

	t.Run("degrades to unvalued holdings when the feed is down", func(t *testing.T) {
		svc, ledger, feed, _ := newTestService()
		ledger.On("ListTransactions", mock.Anything, "alice").Return(txs, nil)
		ledger.On("GetBalance", mock.Anything, "alice").Return(dec("9800"), nil)
		feed.On("ListCoins", mock.Anything).Return(nil, model.ErrPriceUnavailable)

		p, err := svc.Snapshot(ctx, "alice")
		assert.NoError(t, err)
		assert.Len(t, p.Holdings, 1)
		assert.False(t, p.Holdings[0].Priced)
		assert.True(t, p.TotalValue().IsZero())
		assert.True(t, p.CashBalance.Equal(dec("9800")))
	})
}

func TestService_Reset(t *testing.T) {
	svc, ledger, _, _ := newTestService()
	ledger.On("ResetUser", mock.Anything, "alice").Return(nil).Once()

	err := svc.Reset(context.Background(), "alice")
	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}
