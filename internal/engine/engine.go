package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"btc-trading-sim/internal/analytics"
	"btc-trading-sim/internal/config"
	"btc-trading-sim/internal/events"
	"btc-trading-sim/internal/models"
	"btc-trading-sim/internal/store"
	"btc-trading-sim/internal/types"
)

// PriceSource supplies the current effective price for execution.
type PriceSource interface {
	GetCurrentPrice() (models.PriceQuote, bool)
}

// Engine executes trades against simulated portfolios and maintains
// pending limit/stop orders. A portfolio mutation and its transaction
// insert always commit together, under the owner's lock.
type Engine struct {
	logger *zap.Logger
	cfg    config.Trading
	store  store.Store
	prices PriceSource
	bus    *events.Bus

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewEngine creates an execution engine.
func NewEngine(logger *zap.Logger, cfg config.Trading, st store.Store, prices PriceSource, bus *events.Bus) *Engine {
	return &Engine{
		logger: logger.Named("engine"),
		cfg:    cfg,
		store:  st,
		prices: prices,
		bus:    bus,
		owners: make(map[string]*sync.Mutex),
	}
}

// TradeParams are the inputs for a buy or sell request. Amount is in base
// currency for buys and in asset units for sells.
type TradeParams struct {
	OwnerID     string
	Side        types.TradeSide
	Kind        types.OrderKind
	Amount      decimal.Decimal
	TargetPrice decimal.Decimal // required for pending order kinds
}

// ExecutionResult is the outcome of a trade request: either an executed
// transaction or a parked pending order, never both.
type ExecutionResult struct {
	Transaction *models.Transaction
	Order       *models.Order
	Portfolio   *models.Portfolio
}

// ownerLock returns the mutex serializing all executions for one owner.
// Concurrent requests for the same owner must never interleave the
// balance check with the balance update.
func (e *Engine) ownerLock(ownerID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.owners[ownerID]
	if !ok {
		l = &sync.Mutex{}
		e.owners[ownerID] = l
	}
	return l
}

// ExecuteBuy executes a market buy or parks a pending buy order.
func (e *Engine) ExecuteBuy(ctx context.Context, p TradeParams) (*ExecutionResult, error) {
	p.Side = types.SideBuy
	return e.execute(ctx, p)
}

// ExecuteSell executes a market sell or parks a pending sell order.
func (e *Engine) ExecuteSell(ctx context.Context, p TradeParams) (*ExecutionResult, error) {
	p.Side = types.SideSell
	return e.execute(ctx, p)
}

func (e *Engine) execute(ctx context.Context, p TradeParams) (*ExecutionResult, error) {
	if p.Kind == "" {
		p.Kind = types.KindMarket
	}
	if err := e.Validate(p); err != nil {
		return nil, err
	}

	if p.Kind.Pending() {
		return e.placeOrder(ctx, p)
	}

	quote, ok := e.prices.GetCurrentPrice()
	if !ok {
		return nil, fmt.Errorf("no price available yet: %w", types.ErrUpstreamUnavailable)
	}
	return e.executeMarket(ctx, p, quote.PriceUSD)
}

// executeMarket fills a trade at the given price, atomically appending
// the transaction and mutating the portfolio.
func (e *Engine) executeMarket(ctx context.Context, p TradeParams, price decimal.Decimal) (*ExecutionResult, error) {
	lock := e.ownerLock(p.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	var result *ExecutionResult
	err := e.store.Transact(ctx, func(st store.Store) error {
		var err error
		result, err = e.marketFill(ctx, st, p, price)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Trade executed",
		zap.String("owner_id", p.OwnerID),
		zap.String("side", string(p.Side)),
		zap.String("kind", string(p.Kind)),
		zap.String("amount", p.Amount.String()),
		zap.String("price", price.String()))

	e.publishTrade(result)
	return result, nil
}

// marketFill applies one market trade against the owner's portfolio
// through the transactional store. The caller holds the owner lock and
// owns the surrounding transaction, so an order-status transition can
// commit together with the fill.
func (e *Engine) marketFill(ctx context.Context, st store.Store, p TradeParams, price decimal.Decimal) (*ExecutionResult, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("non-positive execution price %s: %w", price, types.ErrUpstreamUnavailable)
	}

	pf, err := e.loadOrCreatePortfolio(ctx, st, p.OwnerID)
	if err != nil {
		return nil, err
	}

	feeRate := decimal.NewFromFloat(e.cfg.FeeRate)
	var tx models.Transaction

	if p.Side == types.SideBuy {
		fee := p.Amount.Mul(feeRate)
		required := p.Amount.Add(fee)
		if required.GreaterThan(pf.BaseBalance) {
			return nil, fmt.Errorf("buy requires %s but balance is %s: %w",
				required, pf.BaseBalance, types.ErrInsufficientFunds)
		}
		assetAmount := p.Amount.Div(price)
		pf.BaseBalance = pf.BaseBalance.Sub(required)
		pf.AssetBalance = pf.AssetBalance.Add(assetAmount)
		tx = models.Transaction{
			OwnerID:     p.OwnerID,
			Side:        string(types.SideBuy),
			Kind:        string(p.Kind),
			AssetAmount: assetAmount,
			BaseAmount:  p.Amount,
			Price:       price,
			Fee:         fee,
			Status:      "completed",
		}
	} else {
		if p.Amount.GreaterThan(pf.AssetBalance) {
			return nil, fmt.Errorf("sell of %s exceeds asset balance %s: %w",
				p.Amount, pf.AssetBalance, types.ErrInsufficientAsset)
		}
		proceeds := p.Amount.Mul(price)
		fee := proceeds.Mul(feeRate)
		pf.AssetBalance = pf.AssetBalance.Sub(p.Amount)
		pf.BaseBalance = pf.BaseBalance.Add(proceeds.Sub(fee))
		tx = models.Transaction{
			OwnerID:     p.OwnerID,
			Side:        string(types.SideSell),
			Kind:        string(p.Kind),
			AssetAmount: p.Amount,
			BaseAmount:  proceeds,
			Price:       price,
			Fee:         fee,
			Status:      "completed",
		}

		if err := e.applySellStats(ctx, st, pf, &tx); err != nil {
			return nil, err
		}
	}

	pf.TotalTrades++
	pf.TotalValue = pf.BaseBalance.Add(pf.AssetBalance.Mul(price))
	if err := st.InsertTransaction(ctx, &tx); err != nil {
		return nil, err
	}
	if err := st.UpsertPortfolio(ctx, pf); err != nil {
		return nil, err
	}

	return &ExecutionResult{Transaction: &tx, Portfolio: pf}, nil
}

// publishTrade announces a committed fill.
func (e *Engine) publishTrade(result *ExecutionResult) {
	e.bus.Publish(types.EventTransactionCreated, result.Transaction)
	e.bus.Publish(types.EventPortfolioChanged, result.Portfolio)
}

// applySellStats updates realized P&L and win/loss counters using the
// FIFO cost basis of this sell against the owner's prior buys.
func (e *Engine) applySellStats(ctx context.Context, st store.Store, pf *models.Portfolio, tx *models.Transaction) error {
	prior, err := st.ListTransactions(ctx, pf.OwnerID, 0, 0)
	if err != nil {
		return err
	}
	// ListTransactions is newest-first; FIFO needs oldest-first.
	for i, j := 0, len(prior)-1; i < j; i, j = i+1, j-1 {
		prior[i], prior[j] = prior[j], prior[i]
	}

	costBasis, matched := analytics.FIFOCostBasis(prior, tx.AssetAmount)
	if !matched {
		// Nothing to attribute the sale against; no realized P&L.
		return nil
	}

	pnl := tx.Price.Sub(costBasis).Mul(tx.AssetAmount)
	pf.RealizedPnL = pf.RealizedPnL.Add(pnl)

	initial := decimal.NewFromFloat(e.cfg.InitialBalance)
	if initial.IsPositive() {
		pf.PnLPercent = pf.RealizedPnL.Div(initial).Mul(decimal.NewFromInt(100))
	}

	if pnl.IsPositive() {
		pf.WinningTrades++
		if pnl.GreaterThan(pf.LargestGain) {
			pf.LargestGain = pnl
		}
	} else if pnl.IsNegative() {
		pf.LosingTrades++
		if pnl.LessThan(pf.LargestLoss) {
			pf.LargestLoss = pnl
		}
	}
	return nil
}

// loadOrCreatePortfolio fetches the owner's portfolio, lazily creating it
// with the configured initial balance on first use.
func (e *Engine) loadOrCreatePortfolio(ctx context.Context, st store.Store, ownerID string) (*models.Portfolio, error) {
	pf, err := st.GetPortfolio(ctx, ownerID)
	if err == nil {
		return pf, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	pf = &models.Portfolio{
		OwnerID:     ownerID,
		BaseBalance: decimal.NewFromFloat(e.cfg.InitialBalance),
	}
	if err := st.UpsertPortfolio(ctx, pf); err != nil {
		return nil, err
	}
	e.logger.Info("Portfolio created", zap.String("owner_id", ownerID))
	return pf, nil
}

// GetPortfolio returns the owner's portfolio, creating it lazily.
func (e *Engine) GetPortfolio(ctx context.Context, ownerID string) (*models.Portfolio, error) {
	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return e.loadOrCreatePortfolio(ctx, e.store, ownerID)
}

// ResetPortfolio restores the owner's portfolio to its initial state.
// Portfolios are never deleted, only reset.
func (e *Engine) ResetPortfolio(ctx context.Context, ownerID string) (*models.Portfolio, error) {
	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	pf, err := e.loadOrCreatePortfolio(ctx, e.store, ownerID)
	if err != nil {
		return nil, err
	}

	pf.BaseBalance = decimal.NewFromFloat(e.cfg.InitialBalance)
	pf.AssetBalance = decimal.Zero
	pf.TotalValue = pf.BaseBalance
	pf.RealizedPnL = decimal.Zero
	pf.PnLPercent = decimal.Zero
	pf.TotalTrades = 0
	pf.WinningTrades = 0
	pf.LosingTrades = 0
	pf.LargestGain = decimal.Zero
	pf.LargestLoss = decimal.Zero

	if err := e.store.UpsertPortfolio(ctx, pf); err != nil {
		return nil, err
	}

	e.logger.Info("Portfolio reset", zap.String("owner_id", ownerID))
	e.bus.Publish(types.EventPortfolioChanged, pf)
	return pf, nil
}
