package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"btc-trading-sim/internal/types"
)

// PriceQuote is one observed price for a symbol. Quotes are immutable once
// created; a new tick never mutates a prior one.
type PriceQuote struct {
	Symbol        string            `json:"symbol"`
	PriceUSD      decimal.Decimal   `json:"price_usd"`
	PriceLocal    decimal.Decimal   `json:"price_local"`
	FxRate        decimal.Decimal   `json:"fx_rate"`
	Change24h     decimal.Decimal   `json:"change_24h"`
	Volume24h     decimal.Decimal   `json:"volume_24h"`
	High24h       decimal.Decimal   `json:"high_24h"`
	Low24h        decimal.Decimal   `json:"low_24h"`
	Source        types.QuoteSource `json:"source"`
	ObservedAt    time.Time         `json:"observed_at"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// PriceTick is the persisted form of a PriceQuote, appended to the
// unbounded price history.
type PriceTick struct {
	gorm.Model
	Symbol     string          `gorm:"index:idx_ticks_symbol_time"`
	PriceUSD   decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	PriceLocal decimal.Decimal `gorm:"type:decimal(20,8)"`
	FxRate     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Change24h  decimal.Decimal `gorm:"type:decimal(20,8)"`
	Volume24h  decimal.Decimal `gorm:"type:decimal(24,8)"`
	High24h    decimal.Decimal `gorm:"type:decimal(20,8)"`
	Low24h     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Source     string          `gorm:"size:16"`
	ObservedAt time.Time       `gorm:"index:idx_ticks_symbol_time"`
}

// Quote converts the persisted tick back into an in-memory quote.
func (t *PriceTick) Quote() PriceQuote {
	return PriceQuote{
		Symbol:     t.Symbol,
		PriceUSD:   t.PriceUSD,
		PriceLocal: t.PriceLocal,
		FxRate:     t.FxRate,
		Change24h:  t.Change24h,
		Volume24h:  t.Volume24h,
		High24h:    t.High24h,
		Low24h:     t.Low24h,
		Source:     types.QuoteSource(t.Source),
		ObservedAt: t.ObservedAt,
		FetchedAt:  t.CreatedAt,
	}
}

// Tick converts a quote into its persisted form.
func (q PriceQuote) Tick() PriceTick {
	return PriceTick{
		Symbol:     q.Symbol,
		PriceUSD:   q.PriceUSD,
		PriceLocal: q.PriceLocal,
		FxRate:     q.FxRate,
		Change24h:  q.Change24h,
		Volume24h:  q.Volume24h,
		High24h:    q.High24h,
		Low24h:     q.Low24h,
		Source:     string(q.Source),
		ObservedAt: q.ObservedAt,
	}
}
