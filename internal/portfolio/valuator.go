package portfolio

import (
	"github.com/shopspring/decimal"

	"cointrack/internal/model"
)

// PriceLookup resolves a coin ID to its current price. The second return is
// false when no price is known; the holding is then reported unvalued.
type PriceLookup func(coinID string) (decimal.Decimal, bool)

type position struct {
	netQuantity decimal.Decimal
	buyQuantity decimal.Decimal
	buyCost     decimal.Decimal
	buyFees     decimal.Decimal
}

// Valuate derives a portfolio snapshot from the transaction ledger and a
// price lookup. It is a pure function: holdings are recomputed from scratch
// on every call and never stored.
//
// Average purchase price is a weighted average over BUY transactions only;
// a SELL reduces the held quantity but does not restate the average cost.
func Valuate(userID string, txs []model.Transaction, cash decimal.Decimal, price PriceLookup) model.Portfolio {
	positions := make(map[string]*position)
	var order []string

	for _, tx := range txs {
		pos, ok := positions[tx.CoinID]
		if !ok {
			pos = &position{
				netQuantity: decimal.Zero,
				buyQuantity: decimal.Zero,
				buyCost:     decimal.Zero,
				buyFees:     decimal.Zero,
			}
			positions[tx.CoinID] = pos
			order = append(order, tx.CoinID)
		}
		switch tx.Type {
		case model.TransactionBuy:
			pos.netQuantity = pos.netQuantity.Add(tx.Quantity)
			pos.buyQuantity = pos.buyQuantity.Add(tx.Quantity)
			pos.buyCost = pos.buyCost.Add(tx.Quantity.Mul(tx.PricePerCoin))
			pos.buyFees = pos.buyFees.Add(tx.Fee)
		case model.TransactionSell:
			pos.netQuantity = pos.netQuantity.Sub(tx.Quantity)
		}
	}

	var holdings []model.Holding
	for _, coinID := range order {
		pos := positions[coinID]
		if !pos.netQuantity.IsPositive() {
			continue
		}
		avg := decimal.Zero
		if pos.buyQuantity.IsPositive() {
			avg = pos.buyCost.Div(pos.buyQuantity)
		}
		h := model.Holding{
			CoinID:               coinID,
			Quantity:             pos.netQuantity,
			AveragePurchasePrice: avg,
			TotalFees:            pos.buyFees,
		}
		if current, ok := price(coinID); ok {
			h.CurrentPrice = current
			h.Priced = true
		}
		holdings = append(holdings, h)
	}

	return model.Portfolio{
		UserID:       userID,
		CashBalance:  cash,
		Holdings:     holdings,
		Transactions: txs,
	}
}

// NetQuantity returns the net held quantity of one coin over the ledger:
// the sum of BUY quantities minus the sum of SELL quantities.
func NetQuantity(txs []model.Transaction, coinID string) decimal.Decimal {
	net := decimal.Zero
	for _, tx := range txs {
		if tx.CoinID != coinID {
			continue
		}
		switch tx.Type {
		case model.TransactionBuy:
			net = net.Add(tx.Quantity)
		case model.TransactionSell:
			net = net.Sub(tx.Quantity)
		}
	}
	return net
}
