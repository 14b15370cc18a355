package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"btc-trading-sim/internal/config"
	"btc-trading-sim/internal/events"
	"btc-trading-sim/internal/models"
	"btc-trading-sim/internal/store"
	"btc-trading-sim/internal/types"
)

type stubPrices struct {
	quote models.PriceQuote
	ok    bool
}

func (s *stubPrices) GetCurrentPrice() (models.PriceQuote, bool) {
	return s.quote, s.ok
}

func testConfig() config.Trading {
	return config.Trading{
		FeeRate:        0.01,
		MinTradeAmount: 1,
		MaxTradeAmount: 100000,
		InitialBalance: 10000,
	}
}

func setupEngine(t *testing.T, price float64) (*Engine, store.Store, *events.Bus) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	st := store.NewGormStore(db)

	bus := events.NewBus(zap.NewNop())
	prices := &stubPrices{
		quote: models.PriceQuote{Symbol: "BTC", PriceUSD: decimal.NewFromFloat(price), Source: types.SourceLive},
		ok:    true,
	}
	return NewEngine(zap.NewNop(), testConfig(), st, prices, bus), st, bus
}

func TestExecuteBuy_MarketMath(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := setupEngine(t, 100)

	// Buy 1000 base at price 100 with 1% fee: balance drops by 1010,
	// asset grows by 10.
	result, err := eng.ExecuteBuy(ctx, TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Transaction)
	assert.Nil(t, result.Order)

	pf, err := st.GetPortfolio(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, pf.BaseBalance.Equal(decimal.NewFromInt(8990)), "got %s", pf.BaseBalance)
	assert.True(t, pf.AssetBalance.Equal(decimal.NewFromInt(10)), "got %s", pf.AssetBalance)
	assert.Equal(t, 1, pf.TotalTrades)
	// Cached total value reflects the post-trade position at the fill price.
	assert.True(t, pf.TotalValue.Equal(decimal.NewFromInt(9990)), "got %s", pf.TotalValue)

	tx := result.Transaction
	assert.Equal(t, "buy", tx.Side)
	assert.True(t, tx.Fee.Equal(decimal.NewFromInt(10)), "got %s", tx.Fee)
	assert.True(t, tx.AssetAmount.Equal(decimal.NewFromInt(10)), "got %s", tx.AssetAmount)
	assert.Equal(t, "completed", tx.Status)
}

func TestExecuteBuy_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := setupEngine(t, 100)

	_, err := eng.ExecuteBuy(ctx, TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(10000), // 10000 + 100 fee > 10000
	})
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	// The rejection left no partial state behind.
	pf, err := st.GetPortfolio(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, pf.BaseBalance.Equal(decimal.NewFromInt(10000)), "got %s", pf.BaseBalance)
	assert.True(t, pf.AssetBalance.IsZero())

	txs, err := st.ListTransactions(ctx, "owner-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestExecuteSell_InsufficientAsset(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := setupEngine(t, 100)

	_, err := eng.ExecuteSell(ctx, TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, types.ErrInsufficientAsset)
}

func TestSequentialBuys_ExactlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := setupEngine(t, 100)

	// Each buy costs 6000 + 60 fee; the balance covers one, not two.
	params := TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(6000),
	}

	_, err1 := eng.ExecuteBuy(ctx, params)
	_, err2 := eng.ExecuteBuy(ctx, params)

	require.NoError(t, err1)
	assert.ErrorIs(t, err2, types.ErrInsufficientFunds)

	pf, err := st.GetPortfolio(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, pf.BaseBalance.IsNegative(), "balance went negative: %s", pf.BaseBalance)
	assert.True(t, pf.BaseBalance.Equal(decimal.NewFromInt(3940)), "got %s", pf.BaseBalance)
}

func TestExecuteSell_RealizedPnLAndCounters(t *testing.T) {
	ctx := context.Background()
	eng, st, _ := setupEngine(t, 100)

	_, err := eng.ExecuteBuy(ctx, TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(1000), // 10 asset @ 100
	})
	require.NoError(t, err)

	// Price doubles; sell half the position.
	eng.prices.(*stubPrices).quote.PriceUSD = decimal.NewFromInt(200)
	result, err := eng.ExecuteSell(ctx, TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	// P&L = (200 - 100) * 5 = 500, fees not part of FIFO P&L.
	pf, err := st.GetPortfolio(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, pf.RealizedPnL.Equal(decimal.NewFromInt(500)), "got %s", pf.RealizedPnL)
	assert.Equal(t, 1, pf.WinningTrades)
	assert.Zero(t, pf.LosingTrades)
	assert.Equal(t, 2, pf.TotalTrades)
	assert.True(t, pf.LargestGain.Equal(decimal.NewFromInt(500)), "got %s", pf.LargestGain)

	// Proceeds 1000 minus 1% fee credited to the base balance.
	assert.True(t, result.Transaction.Fee.Equal(decimal.NewFromInt(10)), "got %s", result.Transaction.Fee)
	assert.True(t, pf.BaseBalance.Equal(decimal.NewFromInt(9980)), "got %s", pf.BaseBalance)
}

func TestValidate_ListsAllViolations(t *testing.T) {
	eng, _, _ := setupEngine(t, 100)

	err := eng.Validate(TradeParams{
		Side:   types.TradeSide("short"),
		Kind:   types.OrderKind("iceberg"),
		Amount: decimal.Zero,
	})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	assert.Contains(t, err.Error(), "owner id is required")
	assert.Contains(t, err.Error(), `unknown side "short"`)
	assert.Contains(t, err.Error(), `unknown order kind "iceberg"`)
	assert.Contains(t, err.Error(), "amount must be positive")
}

func TestValidate_LimitNeedsTargetPrice(t *testing.T) {
	eng, _, _ := setupEngine(t, 100)

	err := eng.Validate(TradeParams{
		OwnerID: "owner-1",
		Side:    types.SideBuy,
		Kind:    types.KindLimit,
		Amount:  decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive target price")
}

func TestExecute_NoPriceAvailable(t *testing.T) {
	eng, _, _ := setupEngine(t, 100)
	eng.prices.(*stubPrices).ok = false

	_, err := eng.ExecuteBuy(context.Background(), TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(100),
	})
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
}

func TestResetPortfolio(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := setupEngine(t, 100)

	_, err := eng.ExecuteBuy(ctx, TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	pf, err := eng.ResetPortfolio(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, pf.BaseBalance.Equal(decimal.NewFromInt(10000)))
	assert.True(t, pf.AssetBalance.IsZero())
	assert.True(t, pf.TotalValue.Equal(decimal.NewFromInt(10000)), "got %s", pf.TotalValue)
	assert.Zero(t, pf.TotalTrades)
}

func TestExecuteBuy_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	eng, _, bus := setupEngine(t, 100)

	var txEvents, pfEvents int
	bus.Subscribe(types.EventTransactionCreated, func(events.Event) { txEvents++ })
	bus.Subscribe(types.EventPortfolioChanged, func(events.Event) { pfEvents++ })

	_, err := eng.ExecuteBuy(ctx, TradeParams{
		OwnerID: "owner-1",
		Kind:    types.KindMarket,
		Amount:  decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, txEvents)
	assert.Equal(t, 1, pfEvents)
}
