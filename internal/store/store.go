package store

import (
	"context"

	"btc-trading-sim/internal/models"
)

// Store is the narrow persistence contract the simulator core consumes.
// The host environment supplies the implementation; the core never
// depends on the schema beyond this interface.
type Store interface {
	GetProfile(ctx context.Context, ownerID string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, p *models.Profile) error

	GetPortfolio(ctx context.Context, ownerID string) (*models.Portfolio, error)
	UpsertPortfolio(ctx context.Context, p *models.Portfolio) error

	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	// ListTransactions returns the owner's ledger newest-first. limit <= 0
	// means no limit.
	ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error)

	InsertOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id uint) (*models.Order, error)
	ListPendingOrders(ctx context.Context) ([]models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	DeleteOrder(ctx context.Context, id uint) error

	InsertPriceTick(ctx context.Context, t *models.PriceTick) error
	LatestPriceTick(ctx context.Context, symbol string) (*models.PriceTick, error)

	HasPermission(ctx context.Context, userID, capability string) (bool, error)

	GetActiveOverride(ctx context.Context, symbol string) (*models.PriceOverride, error)
	InsertOverride(ctx context.Context, o *models.PriceOverride) error
	UpdateOverride(ctx context.Context, o *models.PriceOverride) error
	GetOverride(ctx context.Context, id uint) (*models.PriceOverride, error)
	InsertAudit(ctx context.Context, a *models.OverrideAudit) error
	ListAudits(ctx context.Context, overrideID uint) ([]models.OverrideAudit, error)

	// Transact runs fn inside a single database transaction. Everything fn
	// does through the passed Store either fully commits or fully rolls
	// back; the engine relies on this for the portfolio+transaction pairing.
	Transact(ctx context.Context, fn func(Store) error) error
}
