package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"btc-trading-sim/internal/events"
	"btc-trading-sim/internal/models"
	"btc-trading-sim/internal/store"
	"btc-trading-sim/internal/types"
)

// PriceSource supplies the current effective price for valuation.
type PriceSource interface {
	GetCurrentPrice() (models.PriceQuote, bool)
}

// PortfolioData is a portfolio merged with live mark-to-market valuation.
type PortfolioData struct {
	models.Portfolio
	AssetValue      decimal.Decimal `json:"asset_value"`
	MarkPrice       decimal.Decimal `json:"mark_price"`
	PriceSource     string          `json:"price_source"`
	BaseAllocation  decimal.Decimal `json:"base_allocation_pct"`
	AssetAllocation decimal.Decimal `json:"asset_allocation_pct"`
}

// DailyReturn is one time-bucketed portfolio return.
type DailyReturn struct {
	Date   string  `json:"date"`
	Return float64 `json:"return"`
}

// PerformanceMetrics are derived on demand from the transaction ledger;
// they are cached per owner with a short TTL, never persisted.
type PerformanceMetrics struct {
	OwnerID        string          `json:"owner_id"`
	TotalTrades    int             `json:"total_trades"`
	BuyTrades      int             `json:"buy_trades"`
	SellTrades     int             `json:"sell_trades"`
	WinRate        float64         `json:"win_rate"`
	ProfitFactor   float64         `json:"profit_factor"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	AvgHoldingTime time.Duration   `json:"avg_holding_time"`
	DailyReturns   []DailyReturn   `json:"daily_returns"`
	ComputedAt     time.Time       `json:"computed_at"`
}

type cacheEntry struct {
	metrics  PerformanceMetrics
	cachedAt time.Time
}

// Service computes portfolio valuation and performance analytics from the
// ledger. An empty ledger degrades to zeroed metrics, never an error.
type Service struct {
	logger         *zap.Logger
	store          store.Store
	prices         PriceSource
	initialBalance decimal.Decimal
	ttl            time.Duration
	now            func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewService creates the analytics service. If bus is non-nil, the
// per-owner metrics cache is invalidated whenever that owner's ledger
// grows.
func NewService(logger *zap.Logger, st store.Store, prices PriceSource, initialBalance float64, ttl time.Duration, bus *events.Bus) *Service {
	s := &Service{
		logger:         logger.Named("analytics"),
		store:          st,
		prices:         prices,
		initialBalance: decimal.NewFromFloat(initialBalance),
		ttl:            ttl,
		now:            time.Now,
		cache:          make(map[string]cacheEntry),
	}
	if bus != nil {
		bus.Subscribe(types.EventTransactionCreated, func(evt events.Event) {
			if tx, ok := evt.Payload.(*models.Transaction); ok {
				s.Invalidate(tx.OwnerID)
			}
		})
	}
	return s
}

// GetPortfolioData returns the owner's portfolio with live valuation and
// allocation percentages.
func (s *Service) GetPortfolioData(ctx context.Context, ownerID string) (*PortfolioData, error) {
	pf, err := s.store.GetPortfolio(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	data := &PortfolioData{Portfolio: *pf}

	quote, ok := s.prices.GetCurrentPrice()
	if !ok {
		// No price observed yet: value the asset position at zero and say so.
		data.PriceSource = string(types.SourceSynthetic)
		data.TotalValue = pf.BaseBalance
		data.BaseAllocation = hundredIfPositive(pf.BaseBalance)
		return data, nil
	}

	data.MarkPrice = quote.PriceUSD
	data.PriceSource = string(quote.Source)
	data.AssetValue = pf.AssetBalance.Mul(quote.PriceUSD)
	data.TotalValue = pf.BaseBalance.Add(data.AssetValue)

	if data.TotalValue.IsPositive() {
		hundred := decimal.NewFromInt(100)
		data.BaseAllocation = pf.BaseBalance.Div(data.TotalValue).Mul(hundred)
		data.AssetAllocation = data.AssetValue.Div(data.TotalValue).Mul(hundred)
	}
	return data, nil
}

// GetPerformanceMetrics returns the owner's derived metrics, served from
// the TTL cache when fresh.
func (s *Service) GetPerformanceMetrics(ctx context.Context, ownerID string) (*PerformanceMetrics, error) {
	s.mu.Lock()
	if entry, ok := s.cache[ownerID]; ok && s.now().Sub(entry.cachedAt) < s.ttl {
		m := entry.metrics
		s.mu.Unlock()
		return &m, nil
	}
	s.mu.Unlock()

	txs, err := s.store.ListTransactions(ctx, ownerID, 0, 0)
	if err != nil {
		return nil, err
	}
	// Newest-first from the store; replay wants oldest-first.
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}

	metrics := s.compute(ownerID, txs)

	s.mu.Lock()
	s.cache[ownerID] = cacheEntry{metrics: metrics, cachedAt: s.now()}
	s.mu.Unlock()

	return &metrics, nil
}

// Invalidate drops the owner's cached metrics.
func (s *Service) Invalidate(ownerID string) {
	s.mu.Lock()
	delete(s.cache, ownerID)
	s.mu.Unlock()
}

// compute derives all metrics from an oldest-first ledger. Every ratio is
// reported as 0 rather than NaN or infinity when undefined.
func (s *Service) compute(ownerID string, txs []models.Transaction) PerformanceMetrics {
	m := PerformanceMetrics{
		OwnerID:    ownerID,
		ComputedAt: s.now(),
	}

	for _, tx := range txs {
		switch tx.Side {
		case "buy":
			m.BuyTrades++
		case "sell":
			m.SellTrades++
		}
	}
	m.TotalTrades = m.BuyTrades + m.SellTrades
	if m.TotalTrades == 0 {
		return m
	}

	sells := RealizedSells(txs)

	var (
		wins, losses  int
		grossProfit   = decimal.Zero
		grossLoss     = decimal.Zero
		holdingTotal  time.Duration
		holdingsCount int
	)
	for _, rec := range sells {
		m.RealizedPnL = m.RealizedPnL.Add(rec.PnL)
		if rec.PnL.IsPositive() {
			wins++
			grossProfit = grossProfit.Add(rec.PnL)
		} else if rec.PnL.IsNegative() {
			losses++
			grossLoss = grossLoss.Add(rec.PnL.Abs())
		}
		if rec.HoldingTime > 0 {
			holdingTotal += rec.HoldingTime
			holdingsCount++
		}
	}

	if m.SellTrades > 0 {
		m.WinRate = float64(wins) / float64(m.SellTrades)
	}
	if grossLoss.IsPositive() {
		pf, _ := grossProfit.Div(grossLoss).Float64()
		m.ProfitFactor = pf
	}
	if holdingsCount > 0 {
		m.AvgHoldingTime = holdingTotal / time.Duration(holdingsCount)
	}

	curve := EquityCurve(txs, s.initialBalance)
	dd, _ := MaxDrawdown(curve).Float64()
	m.MaxDrawdown = dd

	m.DailyReturns = dailyReturns(curve, s.initialBalance)
	m.SharpeRatio = sharpe(m.DailyReturns)

	return m
}

// dailyReturns buckets the equity curve by UTC day, taking each day's
// closing equity, and computes day-over-day returns against the previous
// close (the initial balance for the first observed day).
func dailyReturns(curve []EquityPoint, initial decimal.Decimal) []DailyReturn {
	if len(curve) == 0 {
		return nil
	}

	type dayClose struct {
		date   string
		equity decimal.Decimal
	}
	var closes []dayClose
	for _, p := range curve {
		date := p.At.UTC().Format("2006-01-02")
		if len(closes) > 0 && closes[len(closes)-1].date == date {
			closes[len(closes)-1].equity = p.Equity
			continue
		}
		closes = append(closes, dayClose{date: date, equity: p.Equity})
	}

	prev := initial
	out := make([]DailyReturn, 0, len(closes))
	for _, c := range closes {
		r := 0.0
		if prev.IsPositive() {
			r, _ = c.equity.Sub(prev).Div(prev).Float64()
		}
		out = append(out, DailyReturn{Date: c.date, Return: r})
		prev = c.equity
	}
	return out
}

// sharpe is mean(daily return) / sample stddev over the observed window,
// 0 with fewer than 2 points or zero variance.
func sharpe(returns []DailyReturn) float64 {
	if len(returns) < 2 {
		return 0
	}
	values := make([]float64, len(returns))
	for i, r := range returns {
		values[i] = r.Return
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviationSample(values)
	if err != nil || sd == 0 {
		return 0
	}
	return mean / sd
}

func hundredIfPositive(v decimal.Decimal) decimal.Decimal {
	if v.IsPositive() {
		return decimal.NewFromInt(100)
	}
	return decimal.Zero
}
