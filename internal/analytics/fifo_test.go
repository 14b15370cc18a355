package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"btc-trading-sim/internal/models"
)

func tx(side string, assetAmount, price float64, at time.Time) models.Transaction {
	return models.Transaction{
		Model:       gorm.Model{CreatedAt: at},
		OwnerID:     "owner-1",
		Side:        side,
		Kind:        "market",
		AssetAmount: decimal.NewFromFloat(assetAmount),
		BaseAmount:  decimal.NewFromFloat(assetAmount * price),
		Price:       decimal.NewFromFloat(price),
		Status:      "completed",
	}
}

func TestFIFOCostBasis_WeightsConsumedAmounts(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ledger := []models.Transaction{
		tx("buy", 1, 10, base),
		tx("buy", 1, 20, base.Add(time.Hour)),
	}

	// Selling 1.5 consumes the full first lot and half the second:
	// (1*10 + 0.5*20) / 1.5
	basis, ok := FIFOCostBasis(ledger, decimal.NewFromFloat(1.5))
	require.True(t, ok)

	expected := decimal.NewFromInt(20).Div(decimal.NewFromFloat(1.5))
	assert.True(t, basis.Equal(expected), "got %s, want %s", basis, expected)
	f, _ := basis.Float64()
	assert.InDelta(t, 13.3333, f, 0.001)
}

func TestFIFOCostBasis_PriorSellsConsumeOldestLots(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ledger := []models.Transaction{
		tx("buy", 1, 10, base),
		tx("buy", 1, 20, base.Add(time.Hour)),
		tx("sell", 1, 15, base.Add(2*time.Hour)), // consumes the @10 lot
	}

	basis, ok := FIFOCostBasis(ledger, decimal.NewFromFloat(0.5))
	require.True(t, ok)
	assert.True(t, basis.Equal(decimal.NewFromInt(20)), "got %s", basis)
}

func TestFIFOCostBasis_NoBuysToMatch(t *testing.T) {
	_, ok := FIFOCostBasis(nil, decimal.NewFromInt(1))
	assert.False(t, ok)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	soldOut := []models.Transaction{
		tx("buy", 1, 10, base),
		tx("sell", 1, 12, base.Add(time.Hour)),
	}
	_, ok = FIFOCostBasis(soldOut, decimal.NewFromInt(1))
	assert.False(t, ok)
}

func TestRealizedSells_PnLAndHoldingTime(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ledger := []models.Transaction{
		tx("buy", 1, 100, base),
		tx("buy", 1, 200, base.Add(30*time.Minute)),
		tx("sell", 1.5, 300, base.Add(90*time.Minute)),
	}

	records := RealizedSells(ledger)
	require.Len(t, records, 1)

	rec := records[0]
	// Basis (1*100 + 0.5*200)/1.5 ≈ 133.33; P&L = (300-133.33)*1.5 ≈ 250.
	pnl, _ := rec.PnL.Float64()
	assert.InDelta(t, 250, pnl, 0.0001)
	assert.Equal(t, time.Hour, rec.HoldingTime)
}

func TestRealizedSells_UnmatchedSellSkipped(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ledger := []models.Transaction{
		tx("sell", 1, 100, base),
	}
	assert.Empty(t, RealizedSells(ledger))
}

func TestEquityCurveAndMaxDrawdown(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Buy 1 @100 (no fee), price drops to 50, then sell at 50.
	buy := tx("buy", 1, 100, base)
	sell := tx("sell", 1, 50, base.Add(time.Hour))
	curve := EquityCurve([]models.Transaction{buy, sell}, decimal.NewFromInt(1000))

	require.Len(t, curve, 2)
	// After buy: 900 cash + 1 asset marked @100 = 1000.
	assert.True(t, curve[0].Equity.Equal(decimal.NewFromInt(1000)), "got %s", curve[0].Equity)
	// After sell: 950 cash, no asset.
	assert.True(t, curve[1].Equity.Equal(decimal.NewFromInt(950)), "got %s", curve[1].Equity)

	dd := MaxDrawdown(curve)
	assert.True(t, dd.Equal(decimal.NewFromFloat(0.05)), "got %s", dd)
}

func TestMaxDrawdown_MonotonicCurveIsZero(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	points := []EquityPoint{
		{At: base, Equity: decimal.NewFromInt(100)},
		{At: base.Add(time.Hour), Equity: decimal.NewFromInt(110)},
		{At: base.Add(2 * time.Hour), Equity: decimal.NewFromInt(120)},
	}
	assert.True(t, MaxDrawdown(points).IsZero())
}
