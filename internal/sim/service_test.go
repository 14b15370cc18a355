package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"btc-trading-sim/internal/config"
	"btc-trading-sim/internal/engine"
	"btc-trading-sim/internal/feed"
	"btc-trading-sim/internal/pricefeed"
	"btc-trading-sim/internal/store"
	"btc-trading-sim/internal/types"
)

type fixedSource struct {
	price float64
}

func (f *fixedSource) FetchTicker(ctx context.Context) (*pricefeed.TickerPayload, error) {
	p := f.price
	return &pricefeed.TickerPayload{PriceUSD: &p}, nil
}

func testServiceConfig() *config.Config {
	return &config.Config{
		PriceSource: config.PriceSource{Symbol: "BTC", FxRate: 1, TimeoutSec: 2, RingSize: 10},
		Trading: config.Trading{
			FeeRate:        0.01,
			MinTradeAmount: 1,
			MaxTradeAmount: 100000,
			InitialBalance: 10000,
			TickInterval:   1,
		},
		Feed:      config.Feed{MaxReconnects: 3, BaseBackoffMs: 1, MaxBackoffMs: 10},
		Analytics: config.Analytics{CacheTTLSec: 30},
	}
}

func setupService(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))

	return NewService(zap.NewNop(), testServiceConfig(), store.NewGormStore(db),
		&fixedSource{price: 64000}, feed.NewMemoryChannel())
}

func TestService_StartStopAndStatus(t *testing.T) {
	svc := setupService(t)
	assert.NotEmpty(t, svc.UUID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	require.Eventually(t, func() bool {
		_, ok := svc.Prices.GetCurrentPrice()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	status := svc.Status()
	assert.True(t, status.Running)
	assert.Equal(t, svc.UUID, status.UUID)
	assert.GreaterOrEqual(t, status.TickCount, uint64(1))

	cancel()
	svc.Stop()
	assert.False(t, svc.Status().Running)
}

func TestService_TickMatchesPendingOrders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := setupService(t)
	svc.Start(ctx)
	defer svc.Stop()

	require.Eventually(t, func() bool {
		_, ok := svc.Prices.GetCurrentPrice()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// A limit buy above the current price matches on the next tick.
	result, err := svc.Engine.ExecuteBuy(ctx, engine.TradeParams{
		OwnerID:     "owner-1",
		Kind:        types.KindLimit,
		Amount:      decimal.NewFromInt(100),
		TargetPrice: decimal.NewFromInt(70000),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Order)

	require.Eventually(t, func() bool {
		orders, err := svc.Engine.ListOrders(ctx, "owner-1")
		return err == nil && len(orders) == 0
	}, 3*time.Second, 50*time.Millisecond, "order should fill once a tick arrives at or below target")
}

func TestHealthEndpoints(t *testing.T) {
	svc := setupService(t)

	api := NewAPIServer(svc, 0, zap.NewNop())
	ts := httptest.NewServer(api.server.Handler)
	defer ts.Close()

	// No tick yet: price is stale, health reports unavailable.
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var h Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.False(t, h.PriceFresh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	require.Eventually(t, func() bool {
		_, ok := svc.Prices.GetCurrentPrice()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	resp2, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp3.Body.Close()
	var status ServiceStatus
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&status))
	assert.Equal(t, svc.UUID, status.UUID)
	assert.True(t, status.Running)
}

func TestService_StopWithoutCallerCancel(t *testing.T) {
	svc := setupService(t)
	svc.Start(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return; background consumers still running")
	}
	assert.False(t, svc.Status().Running)
}

func TestService_StartIsIdempotent(t *testing.T) {
	svc := setupService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	svc.Start(ctx)
	svc.Stop()
	svc.Stop()
}
