package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceOverride is a manual price set by an admin that fully replaces the
// fetched price while active. At most one override per symbol may be
// active at any time.
type PriceOverride struct {
	gorm.Model
	AdminID            string          `gorm:"index;not null"`
	Symbol             string          `gorm:"index;not null"`
	PriceUSD           decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	PriceLocal         decimal.Decimal `gorm:"type:decimal(20,8)"`
	FxRate             decimal.Decimal `gorm:"type:decimal(20,8)"`
	Reason             string          `gorm:"not null"`
	ExpiresAt          *time.Time
	DisableAutoUpdates bool
	Status             string `gorm:"size:16;index;default:active"`
}

// ExpiredAt reports whether the override's expiry has passed at the given
// instant. Overrides without an expiry never expire on their own.
func (o *PriceOverride) ExpiredAt(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// OverrideAudit records one action taken against an override. Audit rows
// are append-only.
type OverrideAudit struct {
	gorm.Model
	AuditID    string `gorm:"uniqueIndex;not null"`
	OverrideID uint   `gorm:"index;not null"`
	Action     string `gorm:"size:16;not null"` // "create" or "deactivate"
	ActorID    string `gorm:"not null"`
	Reason     string
}

// AdminPermission grants a single capability to an admin user.
type AdminPermission struct {
	gorm.Model
	UserID     string `gorm:"uniqueIndex:idx_perm_user_cap;not null"`
	Capability string `gorm:"uniqueIndex:idx_perm_user_cap;not null"`
}
