package types

// TradeSide is the direction of a trade or pending order.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Valid reports whether the side is a known enum value.
func (s TradeSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderKind distinguishes immediately-executed trades from pending orders.
type OrderKind string

const (
	KindMarket     OrderKind = "market"
	KindLimit      OrderKind = "limit"
	KindStopLoss   OrderKind = "stop_loss"
	KindTakeProfit OrderKind = "take_profit"
)

// Valid reports whether the kind is a known enum value.
func (k OrderKind) Valid() bool {
	switch k {
	case KindMarket, KindLimit, KindStopLoss, KindTakeProfit:
		return true
	}
	return false
}

// Pending reports whether the kind produces a pending order rather than
// an immediate execution.
func (k OrderKind) Pending() bool {
	return k == KindLimit || k == KindStopLoss || k == KindTakeProfit
}

// OrderStatus is the lifecycle state of a pending order.
// pending -> completed | cancelled; terminal states are immutable.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// QuoteSource tags every published quote so consumers can tell live data
// from overridden or degraded data.
type QuoteSource string

const (
	SourceLive      QuoteSource = "live"
	SourceOverride  QuoteSource = "override"
	SourceCache     QuoteSource = "cache"
	SourceSynthetic QuoteSource = "synthetic"
)

// OverrideStatus is the lifecycle state of an admin price override.
type OverrideStatus string

const (
	OverrideActive      OverrideStatus = "active"
	OverrideExpired     OverrideStatus = "expired"
	OverrideDeactivated OverrideStatus = "deactivated"
)

// EventType enumerates the events fanned out by the distribution layer.
type EventType string

const (
	EventPortfolioChanged   EventType = "portfolio-changed"
	EventTransactionCreated EventType = "transaction-created"
	EventOrderChanged       EventType = "order-changed"
	EventOrderMatched       EventType = "order-matched"
	EventOrderCancelled     EventType = "order-cancelled"
	EventPriceChanged       EventType = "price-changed"
	EventConnectionStatus   EventType = "connection-status"
)

// Admin capabilities checked before override operations.
const (
	CapPriceOverride = "price_override"
)
