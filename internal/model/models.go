package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InitialBalance is the cash every simulated portfolio starts with.
var InitialBalance = decimal.NewFromInt(10000)

// TransactionType distinguishes buys from sells in the ledger.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Transaction is a single immutable ledger entry for a simulated trade.
type Transaction struct {
	ID           string          `db:"id"`
	UserID       string          `db:"user_id"`
	CoinID       string          `db:"coin_id"`
	Type         TransactionType `db:"type"`
	Quantity     decimal.Decimal `db:"quantity"`
	PricePerCoin decimal.Decimal `db:"price_per_coin"`
	Fee          decimal.Decimal `db:"fee"`
	Timestamp    time.Time       `db:"timestamp"`
}

// TotalAmount is the cash moved by this transaction: quantity*price plus fee.
func (t Transaction) TotalAmount() decimal.Decimal {
	return t.Quantity.Mul(t.PricePerCoin).Add(t.Fee)
}

// Holding is a derived net position in one coin. It is never stored; it is
// recomputed from the transaction ledger on every portfolio read.
type Holding struct {
	CoinID               string
	Quantity             decimal.Decimal
	AveragePurchasePrice decimal.Decimal
	TotalFees            decimal.Decimal
	CurrentPrice         decimal.Decimal
	// Priced is false when no current price was available for the coin;
	// the holding is then reported unvalued instead of failing the read.
	Priced bool
}

// CostBasis is quantity at average purchase price plus accumulated buy fees.
// Average cost is not restated downward on sells.
func (h Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AveragePurchasePrice).Add(h.TotalFees)
}

// CurrentValue is the market value of the position, zero when unpriced.
func (h Holding) CurrentValue() decimal.Decimal {
	if !h.Priced {
		return decimal.Zero
	}
	return h.Quantity.Mul(h.CurrentPrice)
}

func (h Holding) UnrealizedPnL() decimal.Decimal {
	return h.CurrentValue().Sub(h.CostBasis())
}

// UnrealizedPnLPercentage is zero when the cost basis is not positive.
func (h Holding) UnrealizedPnLPercentage() decimal.Decimal {
	basis := h.CostBasis()
	if !basis.IsPositive() {
		return decimal.Zero
	}
	return h.UnrealizedPnL().Div(basis).Mul(decimal.NewFromInt(100))
}

// Portfolio is the derived view of one user's simulated account: cash plus
// positions computed from the ledger and current market prices.
type Portfolio struct {
	UserID       string
	CashBalance  decimal.Decimal
	Holdings     []Holding
	Transactions []Transaction
}

// TotalValue is the market value of all priced holdings.
func (p Portfolio) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, h := range p.Holdings {
		total = total.Add(h.CurrentValue())
	}
	return total
}

// TotalInvested is the summed cost basis of all holdings.
func (p Portfolio) TotalInvested() decimal.Decimal {
	total := decimal.Zero
	for _, h := range p.Holdings {
		total = total.Add(h.CostBasis())
	}
	return total
}

func (p Portfolio) UnrealizedPnL() decimal.Decimal {
	return p.TotalValue().Sub(p.TotalInvested())
}

func (p Portfolio) UnrealizedPnLPercentage() decimal.Decimal {
	invested := p.TotalInvested()
	if !invested.IsPositive() {
		return decimal.Zero
	}
	return p.UnrealizedPnL().Div(invested).Mul(decimal.NewFromInt(100))
}

// TotalPortfolioValue is cash plus the market value of all holdings.
func (p Portfolio) TotalPortfolioValue() decimal.Decimal {
	return p.CashBalance.Add(p.TotalValue())
}

// PerformancePercentage is the gain or loss against the initial balance.
func (p Portfolio) PerformancePercentage() decimal.Decimal {
	return p.TotalPortfolioValue().Sub(InitialBalance).Div(InitialBalance).Mul(decimal.NewFromInt(100))
}

// HoldingAllocation returns the share of total holdings value held in the
// given coin, as a percentage. Zero when the coin is not held or nothing is valued.
func (p Portfolio) HoldingAllocation(coinID string) decimal.Decimal {
	total := p.TotalValue()
	if !total.IsPositive() {
		return decimal.Zero
	}
	for _, h := range p.Holdings {
		if h.CoinID == coinID {
			return h.CurrentValue().Div(total).Mul(decimal.NewFromInt(100))
		}
	}
	return decimal.Zero
}

// EmptyPortfolio returns a fresh portfolio holding only the initial cash.
func EmptyPortfolio(userID string) Portfolio {
	return Portfolio{UserID: userID, CashBalance: InitialBalance}
}

// AlertType selects the direction of a price alert's threshold check.
type AlertType string

const (
	AlertAbove AlertType = "ABOVE"
	AlertBelow AlertType = "BELOW"
)

// AlertState is the lifecycle state of a price alert. An alert is either
// armed or has fired; there is no separate active flag.
type AlertState string

const (
	AlertStateActive    AlertState = "ACTIVE"
	AlertStateTriggered AlertState = "TRIGGERED"
)

// PriceAlert is a one-shot threshold alert on a coin's price. Once triggered
// it stays triggered until the user resets it.
type PriceAlert struct {
	ID          string          `db:"id"`
	UserID      string          `db:"user_id"`
	CoinID      string          `db:"coin_id"`
	TargetPrice decimal.Decimal `db:"target_price"`
	Type        AlertType       `db:"type"`
	State       AlertState      `db:"state"`
	CreatedAt   time.Time       `db:"created_at"`
	TriggeredAt *time.Time      `db:"triggered_at"`
}

// ShouldTrigger reports whether the alert fires at the given price.
// Triggered alerts never fire again.
func (a PriceAlert) ShouldTrigger(price decimal.Decimal) bool {
	if a.State != AlertStateActive {
		return false
	}
	switch a.Type {
	case AlertAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case AlertBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	default:
		return false
	}
}

// AlertTrigger records one alert firing, with the price that fired it.
type AlertTrigger struct {
	Alert          PriceAlert
	CurrentPrice   decimal.Decimal
	PriceChange24h decimal.Decimal
	TriggeredAt    time.Time
}

// Coin is a read-only market snapshot from the remote price feed.
type Coin struct {
	ID                       string
	Symbol                   string
	Name                     string
	CurrentPrice             decimal.Decimal
	PriceChange24h           decimal.Decimal
	PriceChangePercentage24h decimal.Decimal
	MarketCap                int64
	MarketCapRank            int
	High24h                  decimal.Decimal
	Low24h                   decimal.Decimal
	LastUpdated              time.Time
}

// WatchlistItem pins a coin to a user's watchlist.
type WatchlistItem struct {
	ID      int64     `db:"id"`
	UserID  string    `db:"user_id"`
	CoinID  string    `db:"coin_id"`
	AddedAt time.Time `db:"added_at"`
}
