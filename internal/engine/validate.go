package engine

import (
	"github.com/shopspring/decimal"

	"btc-trading-sim/internal/types"
)

// Validate checks a trade request and reports every violated constraint
// at once. A nil result means the request is executable.
func (e *Engine) Validate(p TradeParams) error {
	ve := &types.ValidationError{}

	if p.OwnerID == "" {
		ve.Add("owner id is required")
	}
	if !p.Side.Valid() {
		ve.Add("unknown side %q", string(p.Side))
	}
	if !p.Kind.Valid() {
		ve.Add("unknown order kind %q", string(p.Kind))
	}

	if !p.Amount.IsPositive() {
		ve.Add("amount must be positive, got %s", p.Amount)
	} else if p.Side == types.SideBuy {
		// Configured bounds are in base currency, so they only apply to
		// buys; sell amounts are asset units and are bounded by the
		// asset balance at execution time.
		min := decimal.NewFromFloat(e.cfg.MinTradeAmount)
		max := decimal.NewFromFloat(e.cfg.MaxTradeAmount)
		if min.IsPositive() && p.Amount.LessThan(min) {
			ve.Add("amount %s is below the minimum %s", p.Amount, min)
		}
		if max.IsPositive() && p.Amount.GreaterThan(max) {
			ve.Add("amount %s is above the maximum %s", p.Amount, max)
		}
	}

	if p.Kind.Pending() && !p.TargetPrice.IsPositive() {
		ve.Add("%s orders require a positive target price, got %s", string(p.Kind), p.TargetPrice)
	}

	return ve.Err()
}
