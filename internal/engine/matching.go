package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"btc-trading-sim/internal/models"
	"btc-trading-sim/internal/store"
	"btc-trading-sim/internal/types"
)

// placeOrder persists a pending order instead of executing immediately.
func (e *Engine) placeOrder(ctx context.Context, p TradeParams) (*ExecutionResult, error) {
	order := &models.Order{
		OwnerID:     p.OwnerID,
		Side:        string(p.Side),
		Kind:        string(p.Kind),
		Amount:      p.Amount,
		TargetPrice: p.TargetPrice,
		Status:      string(types.OrderPending),
	}
	if err := e.store.InsertOrder(ctx, order); err != nil {
		return nil, err
	}

	e.logger.Info("Pending order placed",
		zap.Uint("order_id", order.ID),
		zap.String("owner_id", p.OwnerID),
		zap.String("side", string(p.Side)),
		zap.String("kind", string(p.Kind)),
		zap.String("target_price", p.TargetPrice.String()))

	e.bus.Publish(types.EventOrderChanged, order)
	return &ExecutionResult{Order: order}, nil
}

// CancelOrder cancels the owner's pending order. Cancelling an order that
// is already completed or cancelled is an InvalidState error, not a no-op.
func (e *Engine) CancelOrder(ctx context.Context, id uint, ownerID string) error {
	var cancelled *models.Order
	err := e.store.Transact(ctx, func(st store.Store) error {
		order, err := st.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.OwnerID != ownerID {
			return fmt.Errorf("order %d does not belong to %s: %w", id, ownerID, types.ErrNotFound)
		}
		if order.Status != string(types.OrderPending) {
			return fmt.Errorf("order %d is %s, only pending orders can be cancelled: %w",
				id, order.Status, types.ErrInvalidState)
		}
		order.Status = string(types.OrderCancelled)
		if err := st.UpdateOrder(ctx, order); err != nil {
			return err
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("Order cancelled", zap.Uint("order_id", id), zap.String("owner_id", ownerID))
	e.bus.Publish(types.EventOrderCancelled, cancelled)
	return nil
}

// ListOrders returns the owner's orders, pending first.
func (e *Engine) ListOrders(ctx context.Context, ownerID string) ([]models.Order, error) {
	pending, err := e.store.ListPendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := pending[:0:0]
	for _, o := range pending {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	return out, nil
}

// MatchPendingOrders resolves pending orders against a new effective
// price tick. Matched orders execute as market orders at the tick price
// and transition to completed; the rest stay pending. Eligible orders are
// processed best-price-first, ties broken by earliest creation.
func (e *Engine) MatchPendingOrders(ctx context.Context, quote models.PriceQuote) {
	pending, err := e.store.ListPendingOrders(ctx)
	if err != nil {
		e.logger.Error("Failed to list pending orders for matching", zap.Error(err))
		return
	}

	tickPrice := quote.PriceUSD
	eligible := make([]models.Order, 0, len(pending))
	for _, o := range pending {
		if orderMatches(o, tickPrice) {
			eligible = append(eligible, o)
		}
	}
	if len(eligible) == 0 {
		return
	}

	sortEligible(eligible)

	for i := range eligible {
		order := eligible[i]
		if err := e.fillOrder(ctx, &order, tickPrice); err != nil {
			// A rejected fill (say, the owner spent the funds since the
			// order was placed) leaves the order pending for later ticks.
			e.logger.Warn("Order matched but fill failed, leaving pending",
				zap.Uint("order_id", order.ID),
				zap.Error(err))
		}
	}
}

// fillOrder executes one matched order at the tick price. The fill and
// the pending→completed transition commit in one transaction, so either
// both persist or neither does. The order is re-read inside the
// transaction; a cancel that landed since listing wins.
func (e *Engine) fillOrder(ctx context.Context, order *models.Order, tickPrice decimal.Decimal) error {
	lock := e.ownerLock(order.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	var result *ExecutionResult
	var filled *models.Order
	err := e.store.Transact(ctx, func(st store.Store) error {
		current, err := st.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != string(types.OrderPending) {
			return fmt.Errorf("order %d is %s, not pending: %w",
				current.ID, current.Status, types.ErrInvalidState)
		}

		params := TradeParams{
			OwnerID: current.OwnerID,
			Side:    types.TradeSide(current.Side),
			Kind:    types.OrderKind(current.Kind),
			Amount:  current.Amount,
		}
		result, err = e.marketFill(ctx, st, params, tickPrice)
		if err != nil {
			return err
		}

		current.Status = string(types.OrderCompleted)
		if err := st.UpdateOrder(ctx, current); err != nil {
			return fmt.Errorf("complete order %d: %w", current.ID, err)
		}
		filled = current
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("Pending order matched and executed",
		zap.Uint("order_id", filled.ID),
		zap.String("owner_id", filled.OwnerID),
		zap.String("target_price", filled.TargetPrice.String()),
		zap.String("fill_price", tickPrice.String()))

	e.publishTrade(result)
	e.bus.Publish(types.EventOrderMatched, filled)
	return nil
}

// orderMatches reports whether a pending order triggers at the tick price.
func orderMatches(o models.Order, tickPrice decimal.Decimal) bool {
	switch types.OrderKind(o.Kind) {
	case types.KindLimit:
		if types.TradeSide(o.Side) == types.SideBuy {
			return tickPrice.LessThanOrEqual(o.TargetPrice)
		}
		return tickPrice.GreaterThanOrEqual(o.TargetPrice)
	case types.KindStopLoss:
		// Protective sell once the price falls to the stop.
		return tickPrice.LessThanOrEqual(o.TargetPrice)
	case types.KindTakeProfit:
		return tickPrice.GreaterThanOrEqual(o.TargetPrice)
	default:
		return false
	}
}

// sortEligible orders matched orders best-price-first: highest target
// first for buys, lowest first for sells, creation time breaking ties.
func sortEligible(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.Side != b.Side {
			// Buys before sells keeps the pass deterministic.
			return a.Side == string(types.SideBuy)
		}
		if !a.TargetPrice.Equal(b.TargetPrice) {
			if a.Side == string(types.SideBuy) {
				return a.TargetPrice.GreaterThan(b.TargetPrice)
			}
			return a.TargetPrice.LessThan(b.TargetPrice)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
