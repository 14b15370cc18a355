package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"btc-trading-sim/internal/models"
)

// lot is an open FIFO purchase: asset still held from one buy.
type lot struct {
	amount decimal.Decimal
	price  decimal.Decimal
	at     time.Time
}

// replayLots walks an oldest-first ledger and returns the open buy lots
// after all sells have consumed their share, oldest purchase first.
func replayLots(txs []models.Transaction) []lot {
	var lots []lot
	for _, tx := range txs {
		switch tx.Side {
		case "buy":
			lots = append(lots, lot{amount: tx.AssetAmount, price: tx.Price, at: tx.CreatedAt})
		case "sell":
			remaining := tx.AssetAmount
			for len(lots) > 0 && remaining.IsPositive() {
				if lots[0].amount.GreaterThan(remaining) {
					lots[0].amount = lots[0].amount.Sub(remaining)
					remaining = decimal.Zero
					break
				}
				remaining = remaining.Sub(lots[0].amount)
				lots = lots[1:]
			}
		}
	}
	return lots
}

// FIFOCostBasis returns the FIFO-weighted purchase price covering a sell
// of sellAmount against the ordered (oldest-first) ledger txs. Buys are
// consumed oldest-first, each contributing its price weighted by the
// amount taken from it. The boolean is false when no buy can be matched.
func FIFOCostBasis(txs []models.Transaction, sellAmount decimal.Decimal) (decimal.Decimal, bool) {
	lots := replayLots(txs)
	return weightedCost(lots, sellAmount)
}

func weightedCost(lots []lot, amount decimal.Decimal) (decimal.Decimal, bool) {
	remaining := amount
	consumed := decimal.Zero
	cost := decimal.Zero

	for _, l := range lots {
		if !remaining.IsPositive() {
			break
		}
		take := l.amount
		if take.GreaterThan(remaining) {
			take = remaining
		}
		cost = cost.Add(take.Mul(l.price))
		consumed = consumed.Add(take)
		remaining = remaining.Sub(take)
	}

	if !consumed.IsPositive() {
		return decimal.Zero, false
	}
	return cost.Div(consumed), true
}

// SellRecord is the realized outcome of one sell, computed by replay.
type SellRecord struct {
	At          time.Time
	Amount      decimal.Decimal
	Price       decimal.Decimal
	CostBasis   decimal.Decimal
	PnL         decimal.Decimal
	HoldingTime time.Duration // sell time minus the most recent prior buy
}

// RealizedSells replays an oldest-first ledger and returns the FIFO
// realized P&L of every sell, in ledger order. Sells with no prior buy to
// match are skipped; they realize nothing.
func RealizedSells(txs []models.Transaction) []SellRecord {
	var (
		records []SellRecord
		lots    []lot
		lastBuy time.Time
	)

	for _, tx := range txs {
		switch tx.Side {
		case "buy":
			lots = append(lots, lot{amount: tx.AssetAmount, price: tx.Price, at: tx.CreatedAt})
			lastBuy = tx.CreatedAt
		case "sell":
			basis, ok := weightedCost(lots, tx.AssetAmount)

			// Consume the lots this sell covers.
			remaining := tx.AssetAmount
			for len(lots) > 0 && remaining.IsPositive() {
				if lots[0].amount.GreaterThan(remaining) {
					lots[0].amount = lots[0].amount.Sub(remaining)
					remaining = decimal.Zero
					break
				}
				remaining = remaining.Sub(lots[0].amount)
				lots = lots[1:]
			}

			if !ok {
				continue
			}
			rec := SellRecord{
				At:        tx.CreatedAt,
				Amount:    tx.AssetAmount,
				Price:     tx.Price,
				CostBasis: basis,
				PnL:       tx.Price.Sub(basis).Mul(tx.AssetAmount),
			}
			if !lastBuy.IsZero() && tx.CreatedAt.After(lastBuy) {
				rec.HoldingTime = tx.CreatedAt.Sub(lastBuy)
			}
			records = append(records, rec)
		}
	}
	return records
}

// EquityPoint is one mark-to-market sample of the replayed equity curve.
type EquityPoint struct {
	At     time.Time
	Equity decimal.Decimal
}

// EquityCurve reconstructs the portfolio's equity over time by replaying
// the ordered ledger against the initial balance, marking the asset
// position at each transaction's execution price.
func EquityCurve(txs []models.Transaction, initialBalance decimal.Decimal) []EquityPoint {
	base := initialBalance
	asset := decimal.Zero

	points := make([]EquityPoint, 0, len(txs)+1)
	for _, tx := range txs {
		switch tx.Side {
		case "buy":
			base = base.Sub(tx.BaseAmount).Sub(tx.Fee)
			asset = asset.Add(tx.AssetAmount)
		case "sell":
			asset = asset.Sub(tx.AssetAmount)
			base = base.Add(tx.BaseAmount).Sub(tx.Fee)
		}
		points = append(points, EquityPoint{
			At:     tx.CreatedAt,
			Equity: base.Add(asset.Mul(tx.Price)),
		})
	}
	return points
}

// MaxDrawdown returns the largest peak-to-trough percentage decline of
// the equity curve, as a non-negative fraction (0.25 means -25%).
func MaxDrawdown(points []EquityPoint) decimal.Decimal {
	maxDD := decimal.Zero
	var peak decimal.Decimal

	for i, p := range points {
		if i == 0 || p.Equity.GreaterThan(peak) {
			peak = p.Equity
			continue
		}
		if peak.IsPositive() {
			dd := peak.Sub(p.Equity).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	return maxDD
}
