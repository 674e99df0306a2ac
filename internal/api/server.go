package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"cointrack/internal/alert"
	"cointrack/internal/market"
	"cointrack/internal/model"
	"cointrack/internal/portfolio"
	"cointrack/internal/watchlist"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type TradeRequest struct {
	CoinID   string `json:"coin_id"`
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
	Fee      string `json:"fee,omitempty"`
}

type CreateAlertRequest struct {
	CoinID      string `json:"coin_id"`
	TargetPrice string `json:"target_price"`
	Type        string `json:"type"`
}

type WatchRequest struct {
	CoinID string `json:"coin_id"`
}

// holdingResponse flattens a holding's derived values, which only exist as
// methods on the domain type.
type holdingResponse struct {
	CoinID                  string          `json:"coin_id"`
	Quantity                decimal.Decimal `json:"quantity"`
	AveragePurchasePrice    decimal.Decimal `json:"average_purchase_price"`
	CurrentPrice            decimal.Decimal `json:"current_price"`
	Priced                  bool            `json:"priced"`
	CostBasis               decimal.Decimal `json:"cost_basis"`
	CurrentValue            decimal.Decimal `json:"current_value"`
	UnrealizedPnL           decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercentage decimal.Decimal `json:"unrealized_pnl_percentage"`
	Allocation              decimal.Decimal `json:"allocation"`
}

type portfolioResponse struct {
	UserID                  string            `json:"user_id"`
	CashBalance             decimal.Decimal   `json:"cash_balance"`
	Holdings                []holdingResponse `json:"holdings"`
	TotalValue              decimal.Decimal   `json:"total_value"`
	TotalInvested           decimal.Decimal   `json:"total_invested"`
	UnrealizedPnL           decimal.Decimal   `json:"unrealized_pnl"`
	UnrealizedPnLPercentage decimal.Decimal   `json:"unrealized_pnl_percentage"`
	TotalPortfolioValue     decimal.Decimal   `json:"total_portfolio_value"`
	PerformancePercentage   decimal.Decimal   `json:"performance_percentage"`
}

// Server exposes the portfolio, alert, watchlist and market operations over JSON.
type Server struct {
	logger    *slog.Logger
	feed      market.Feed
	portfolio *portfolio.Service
	alerts    *alert.Evaluator
	watchlist *watchlist.Service
}

func NewServer(logger *slog.Logger, feed market.Feed, p *portfolio.Service, a *alert.Evaluator, w *watchlist.Service) *Server {
	return &Server{
		logger:    logger,
		feed:      feed,
		portfolio: p,
		alerts:    a,
		watchlist: w,
	}
}

// Handler builds the route table. The user is always an explicit path
// segment; there is no session state.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /coins", s.handleListCoins)
	mux.HandleFunc("GET /coins/{id}", s.handleGetCoin)

	mux.HandleFunc("GET /users/{userID}/portfolio", s.handleGetPortfolio)
	mux.HandleFunc("GET /users/{userID}/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /users/{userID}/trades", s.handleTrade)
	mux.HandleFunc("POST /users/{userID}/reset", s.handleReset)

	mux.HandleFunc("GET /users/{userID}/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /users/{userID}/alerts", s.handleCreateAlert)
	mux.HandleFunc("DELETE /users/{userID}/alerts/{alertID}", s.handleDeleteAlert)
	mux.HandleFunc("POST /users/{userID}/alerts/{alertID}/reset", s.handleResetAlert)

	mux.HandleFunc("GET /users/{userID}/watchlist", s.handleListWatchlist)
	mux.HandleFunc("POST /users/{userID}/watchlist", s.handleAddToWatchlist)
	mux.HandleFunc("DELETE /users/{userID}/watchlist/{coinID}", s.handleRemoveFromWatchlist)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func (s *Server) handleListCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := s.feed.ListCoins(r.Context())
	if err != nil {
		s.writeError(w, "failed to fetch coins", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Coins retrieved successfully", Data: coins})
}

func (s *Server) handleGetCoin(w http.ResponseWriter, r *http.Request) {
	coin, err := s.feed.GetCoin(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, "failed to fetch coin", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Coin retrieved successfully", Data: coin})
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolio.Snapshot(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, "failed to compute portfolio", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Portfolio retrieved successfully", Data: toPortfolioResponse(p)})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.portfolio.TransactionHistory(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, "failed to fetch transactions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Transactions retrieved successfully", Data: txs})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		http.Error(w, "Invalid quantity", http.StatusBadRequest)
		return
	}
	fee := decimal.Zero
	if req.Fee != "" {
		if fee, err = decimal.NewFromString(req.Fee); err != nil {
			http.Error(w, "Invalid fee", http.StatusBadRequest)
			return
		}
	}

	var tx model.Transaction
	switch model.TransactionType(req.Type) {
	case model.TransactionBuy:
		tx, err = s.portfolio.Buy(r.Context(), userID, req.CoinID, quantity, fee)
	case model.TransactionSell:
		tx, err = s.portfolio.Sell(r.Context(), userID, req.CoinID, quantity, fee)
	default:
		http.Error(w, "Type must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, "trade failed", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, Response{Message: "Trade executed successfully", Data: tx})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := s.portfolio.Reset(r.Context(), userID); err != nil {
		s.writeError(w, "failed to reset portfolio", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{
		Message: "Portfolio reset successfully",
		Data:    toPortfolioResponse(model.EmptyPortfolio(userID)),
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.ListAlerts(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, "failed to fetch alerts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Alerts retrieved successfully", Data: alerts})
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil {
		http.Error(w, "Invalid target price", http.StatusBadRequest)
		return
	}

	created, err := s.alerts.CreateAlert(r.Context(), r.PathValue("userID"), req.CoinID, target, model.AlertType(req.Type))
	if err != nil {
		s.writeError(w, "failed to create alert", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, Response{Message: "Alert created successfully", Data: created})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.DeleteAlert(r.Context(), r.PathValue("alertID")); err != nil {
		s.writeError(w, "failed to delete alert", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Alert deleted successfully"})
}

func (s *Server) handleResetAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.ResetAlert(r.Context(), r.PathValue("alertID")); err != nil {
		s.writeError(w, "failed to reset alert", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Alert re-armed successfully"})
}

func (s *Server) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.watchlist.List(r.Context(), r.PathValue("userID"))
	if err != nil {
		s.writeError(w, "failed to fetch watchlist", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Watchlist retrieved successfully", Data: items})
}

func (s *Server) handleAddToWatchlist(w http.ResponseWriter, r *http.Request) {
	var req WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CoinID == "" {
		http.Error(w, "Missing required field: coin_id", http.StatusBadRequest)
		return
	}
	if err := s.watchlist.Add(r.Context(), r.PathValue("userID"), req.CoinID); err != nil {
		s.writeError(w, "failed to add to watchlist", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, Response{Message: "Coin added to watchlist"})
}

func (s *Server) handleRemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := s.watchlist.Remove(r.Context(), r.PathValue("userID"), r.PathValue("coinID")); err != nil {
		s.writeError(w, "failed to remove from watchlist", err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "Coin removed from watchlist"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidTrade), errors.Is(err, model.ErrInvalidAlert):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientFunds), errors.Is(err, model.ErrInsufficientHoldings):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrCoinNotFound), errors.Is(err, model.ErrAlertNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrPriceUnavailable), errors.Is(err, model.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	s.logger.Error(msg, "error", err, "status", status)
	http.Error(w, err.Error(), status)
}

func toPortfolioResponse(p model.Portfolio) portfolioResponse {
	resp := portfolioResponse{
		UserID:                  p.UserID,
		CashBalance:             p.CashBalance,
		Holdings:                make([]holdingResponse, 0, len(p.Holdings)),
		TotalValue:              p.TotalValue(),
		TotalInvested:           p.TotalInvested(),
		UnrealizedPnL:           p.UnrealizedPnL(),
		UnrealizedPnLPercentage: p.UnrealizedPnLPercentage(),
		TotalPortfolioValue:     p.TotalPortfolioValue(),
		PerformancePercentage:   p.PerformancePercentage(),
	}
	for _, h := range p.Holdings {
		resp.Holdings = append(resp.Holdings, holdingResponse{
			CoinID:                  h.CoinID,
			Quantity:                h.Quantity,
			AveragePurchasePrice:    h.AveragePurchasePrice,
			CurrentPrice:            h.CurrentPrice,
			Priced:                  h.Priced,
			CostBasis:               h.CostBasis(),
			CurrentValue:            h.CurrentValue(),
			UnrealizedPnL:           h.UnrealizedPnL(),
			UnrealizedPnLPercentage: h.UnrealizedPnLPercentage(),
			Allocation:              p.HoldingAllocation(h.CoinID),
		})
	}
	return resp
}
