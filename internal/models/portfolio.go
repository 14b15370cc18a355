package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Profile is the owner of a portfolio. The content-management side owns
// most profile data; the core only needs identity.
type Profile struct {
	gorm.Model
	OwnerID     string `gorm:"uniqueIndex;not null"`
	DisplayName string
}

// Portfolio holds one owner's simulated balances and running trade stats.
// Both balances are always >= 0; only the execution engine mutates a
// portfolio, and only together with appending a Transaction.
type Portfolio struct {
	gorm.Model
	OwnerID       string          `gorm:"uniqueIndex;not null"`
	BaseBalance   decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	AssetBalance  decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	TotalValue    decimal.Decimal `gorm:"type:decimal(20,8)"`
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(20,8)"`
	PnLPercent    decimal.Decimal `gorm:"type:decimal(20,8)"`
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	LargestGain   decimal.Decimal `gorm:"type:decimal(20,8)"`
	LargestLoss   decimal.Decimal `gorm:"type:decimal(20,8)"`
}

// Transaction is one completed trade in the append-only ledger. Rows are
// never partially applied and never mutated after creation.
type Transaction struct {
	gorm.Model
	OwnerID     string          `gorm:"index;not null"`
	Side        string          `gorm:"size:8;not null"`
	Kind        string          `gorm:"size:16;not null"`
	AssetAmount decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	BaseAmount  decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Fee         decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Status      string          `gorm:"size:16;default:completed"`
}

// Order is a pending limit/stop/take-profit order awaiting a matching
// tick. Amount is in base currency for buys and asset units for sells,
// the same convention as an immediate trade request.
type Order struct {
	gorm.Model
	OwnerID     string          `gorm:"index;not null"`
	Side        string          `gorm:"size:8;not null"`
	Kind        string          `gorm:"size:16;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	TargetPrice decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Status      string          `gorm:"size:16;index;default:pending"`
}
