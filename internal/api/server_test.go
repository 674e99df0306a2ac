package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cointrack/internal/alert"
	"cointrack/internal/model"
	"cointrack/internal/notify"
	"cointrack/internal/portfolio"
	"cointrack/internal/watchlist"
)

// In-memory stand-ins for the postgres repositories and the market feed, so
// the full request path can be exercised without containers.

type memLedger struct {
	mu       sync.Mutex
	txs      map[string][]model.Transaction
	balances map[string]decimal.Decimal
}

func newMemLedger() *memLedger {
	return &memLedger{
		txs:      make(map[string][]model.Transaction),
		balances: make(map[string]decimal.Decimal),
	}
}

func (m *memLedger) AppendTransaction(ctx context.Context, tx model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.UserID] = append(m.txs[tx.UserID], tx)
	return nil
}

func (m *memLedger) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Transaction(nil), m.txs[userID]...), nil
}

func (m *memLedger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		balance = model.InitialBalance
		m.balances[userID] = balance
	}
	return balance, nil
}

func (m *memLedger) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = balance
	return nil
}

func (m *memLedger) ApplyTrade(ctx context.Context, tx model.Transaction, newBalance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.UserID] = append(m.txs[tx.UserID], tx)
	m.balances[tx.UserID] = newBalance
	return nil
}

func (m *memLedger) ResetUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs, userID)
	m.balances[userID] = model.InitialBalance
	return nil
}

type memAlerts struct {
	mu     sync.Mutex
	alerts map[string]model.PriceAlert
}

func newMemAlerts() *memAlerts {
	return &memAlerts{alerts: make(map[string]model.PriceAlert)}
}

func (m *memAlerts) Create(ctx context.Context, alert model.PriceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = alert
	return nil
}

func (m *memAlerts) ListByUser(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PriceAlert
	for _, a := range m.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAlerts) ListActiveByCoin(ctx context.Context, coinID string) ([]model.PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PriceAlert
	for _, a := range m.alerts {
		if a.CoinID == coinID && a.State == model.AlertStateActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAlerts) MarkTriggered(ctx context.Context, alertID string, triggeredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.State != model.AlertStateActive {
		return nil
	}
	a.State = model.AlertStateTriggered
	a.TriggeredAt = &triggeredAt
	m.alerts[alertID] = a
	return nil
}

func (m *memAlerts) Reset(ctx context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return model.ErrAlertNotFound
	}
	a.State = model.AlertStateActive
	a.TriggeredAt = nil
	m.alerts[alertID] = a
	return nil
}

func (m *memAlerts) Delete(ctx context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alertID]; !ok {
		return model.ErrAlertNotFound
	}
	delete(m.alerts, alertID)
	return nil
}

type memWatchlist struct {
	mu    sync.Mutex
	items map[string][]model.WatchlistItem
}

func newMemWatchlist() *memWatchlist {
	return &memWatchlist{items: make(map[string][]model.WatchlistItem)}
}

func (m *memWatchlist) Add(ctx context.Context, userID, coinID string, addedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items[userID] {
		if item.CoinID == coinID {
			return nil
		}
	}
	m.items[userID] = append(m.items[userID], model.WatchlistItem{UserID: userID, CoinID: coinID, AddedAt: addedAt})
	return nil
}

func (m *memWatchlist) Remove(ctx context.Context, userID, coinID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[userID][:0]
	for _, item := range m.items[userID] {
		if item.CoinID != coinID {
			items = append(items, item)
		}
	}
	m.items[userID] = items
	return nil
}

func (m *memWatchlist) ListByUser(ctx context.Context, userID string) ([]model.WatchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.WatchlistItem(nil), m.items[userID]...), nil
}

func (m *memWatchlist) Contains(ctx context.Context, userID, coinID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items[userID] {
		if item.CoinID == coinID {
			return true, nil
		}
	}
	return false, nil
}

type fakeFeed struct {
	coins map[string]model.Coin
}

func (f *fakeFeed) ListCoins(ctx context.Context) ([]model.Coin, error) {
	var out []model.Coin
	for _, c := range f.coins {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeFeed) GetCoin(ctx context.Context, id string) (model.Coin, error) {
	c, ok := f.coins[id]
	if !ok {
		return model.Coin{}, model.ErrCoinNotFound
	}
	return c, nil
}

func newTestHandler() http.Handler {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	feed := &fakeFeed{coins: map[string]model.Coin{
		"bitcoin": {ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: decimal.NewFromInt(100)},
	}}
	notifier := notify.NewLogNotifier(logger)

	p := portfolio.NewService(logger, newMemLedger(), feed, notifier)
	a := alert.NewEvaluator(logger, newMemAlerts(), notifier)
	w := watchlist.NewService(logger, newMemWatchlist())

	return NewServer(logger, feed, p, a, w).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_TradeFlow(t *testing.T) {
	handler := newTestHandler()

	rec := doJSON(t, handler, http.MethodPost, "/users/alice/trades",
		`{"coin_id":"bitcoin","type":"BUY","quantity":"2","fee":"5"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/users/alice/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data portfolioResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.CashBalance.Equal(decimal.NewFromInt(9795)), "cash: %s", resp.Data.CashBalance)
	require.Len(t, resp.Data.Holdings, 1)
	assert.True(t, resp.Data.Holdings[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, resp.Data.Holdings[0].Allocation.Equal(decimal.NewFromInt(100)))

	rec = doJSON(t, handler, http.MethodGet, "/users/alice/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/users/alice/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	// Reset answers with the fresh portfolio: initial cash, nothing held.
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.CashBalance.Equal(model.InitialBalance))
	assert.Empty(t, resp.Data.Holdings)

	rec = doJSON(t, handler, http.MethodGet, "/users/alice/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.CashBalance.Equal(model.InitialBalance))
	assert.Empty(t, resp.Data.Holdings)
}

func TestServer_TradeErrors(t *testing.T) {
	handler := newTestHandler()

	t.Run("insufficient funds", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/users/bob/trades",
			`{"coin_id":"bitcoin","type":"BUY","quantity":"500"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("selling more than held", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/users/bob/trades",
			`{"coin_id":"bitcoin","type":"SELL","quantity":"1"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown coin", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/users/bob/trades",
			`{"coin_id":"notacoin","type":"BUY","quantity":"1"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad trade type", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/users/bob/trades",
			`{"coin_id":"bitcoin","type":"SHORT","quantity":"1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed quantity", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/users/bob/trades",
			`{"coin_id":"bitcoin","type":"BUY","quantity":"lots"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Alerts(t *testing.T) {
	handler := newTestHandler()

	rec := doJSON(t, handler, http.MethodPost, "/users/alice/alerts",
		`{"coin_id":"bitcoin","target_price":"50000","type":"ABOVE"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data model.PriceAlert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.ID)

	rec = doJSON(t, handler, http.MethodGet, "/users/alice/alerts", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/users/alice/alerts/"+resp.Data.ID+"/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/users/alice/alerts/"+resp.Data.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("unknown alert is 404", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodDelete, "/users/alice/alerts/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid target is 400", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/users/alice/alerts",
			`{"coin_id":"bitcoin","target_price":"-1","type":"ABOVE"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Watchlist(t *testing.T) {
	handler := newTestHandler()

	rec := doJSON(t, handler, http.MethodPost, "/users/alice/watchlist", `{"coin_id":"bitcoin"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/users/alice/watchlist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []model.WatchlistItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "bitcoin", resp.Data[0].CoinID)

	rec = doJSON(t, handler, http.MethodDelete, "/users/alice/watchlist/bitcoin", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/users/alice/watchlist", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)

	t.Run("missing coin_id is 400", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/users/alice/watchlist", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Coins(t *testing.T) {
	handler := newTestHandler()

	rec := doJSON(t, handler, http.MethodGet, "/coins", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/coins/bitcoin", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/coins/notacoin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
