package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"btc-trading-sim/internal/models"
	"btc-trading-sim/internal/types"
)

// GormStore implements Store on top of a gorm database handle.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an already-opened gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetProfile(ctx context.Context, ownerID string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("profile %s: %w", ownerID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *GormStore) UpsertProfile(ctx context.Context, p *models.Profile) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *GormStore) GetPortfolio(ctx context.Context, ownerID string) (*models.Portfolio, error) {
	var p models.Portfolio
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("portfolio %s: %w", ownerID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	return &p, nil
}

func (s *GormStore) UpsertPortfolio(ctx context.Context, p *models.Portfolio) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("upsert portfolio: %w", err)
	}
	return nil
}

func (s *GormStore) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *GormStore) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]models.Transaction, error) {
	var txs []models.Transaction
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *GormStore) InsertOrder(ctx context.Context, o *models.Order) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *GormStore) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (s *GormStore) ListPendingOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("status = ?", string(types.OrderPending)).
		Order("created_at ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	return orders, nil
}

func (s *GormStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	if err := s.db.WithContext(ctx).Save(o).Error; err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteOrder(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&models.Order{}, id).Error; err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func (s *GormStore) InsertPriceTick(ctx context.Context, t *models.PriceTick) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("insert price tick: %w", err)
	}
	return nil
}

func (s *GormStore) LatestPriceTick(ctx context.Context, symbol string) (*models.PriceTick, error) {
	var t models.PriceTick
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("observed_at DESC, id DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("latest tick %s: %w", symbol, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest price tick: %w", err)
	}
	return &t, nil
}

func (s *GormStore) HasPermission(ctx context.Context, userID, capability string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AdminPermission{}).
		Where("user_id = ? AND capability = ?", userID, capability).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("permission lookup: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) GetActiveOverride(ctx context.Context, symbol string) (*models.PriceOverride, error) {
	var o models.PriceOverride
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND status = ?", symbol, string(types.OverrideActive)).
		Order("created_at DESC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // no active override is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("get active override: %w", err)
	}
	return &o, nil
}

func (s *GormStore) InsertOverride(ctx context.Context, o *models.PriceOverride) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	return nil
}

func (s *GormStore) UpdateOverride(ctx context.Context, o *models.PriceOverride) error {
	if err := s.db.WithContext(ctx).Save(o).Error; err != nil {
		return fmt.Errorf("update override: %w", err)
	}
	return nil
}

func (s *GormStore) GetOverride(ctx context.Context, id uint) (*models.PriceOverride, error) {
	var o models.PriceOverride
	err := s.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("override %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	return &o, nil
}

func (s *GormStore) InsertAudit(ctx context.Context, a *models.OverrideAudit) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *GormStore) ListAudits(ctx context.Context, overrideID uint) ([]models.OverrideAudit, error) {
	var audits []models.OverrideAudit
	err := s.db.WithContext(ctx).
		Where("override_id = ?", overrideID).
		Order("created_at ASC").
		Find(&audits).Error
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	return audits, nil
}

func (s *GormStore) Transact(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
