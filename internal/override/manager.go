package override

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"btc-trading-sim/internal/models"
	"btc-trading-sim/internal/store"
	"btc-trading-sim/internal/types"
)

// Price band for manual overrides. Anything outside is a fat-finger.
var (
	minOverridePrice = decimal.NewFromFloat(0.01)
	maxOverridePrice = decimal.NewFromInt(10_000_000)
)

const minReasonLength = 10

// Manager owns admin price overrides: creation with validation and audit,
// deactivation, lazy expiry, and effective-price composition.
type Manager struct {
	logger *zap.Logger
	store  store.Store
	now    func() time.Time
}

// NewManager creates an override manager backed by the given store.
func NewManager(logger *zap.Logger, st store.Store) *Manager {
	return &Manager{
		logger: logger.Named("override"),
		store:  st,
		now:    time.Now,
	}
}

// CreateParams are the inputs for a new override.
type CreateParams struct {
	AdminID            string
	Symbol             string
	PriceUSD           decimal.Decimal
	FxRate             decimal.Decimal
	Reason             string
	Duration           time.Duration // 0 means no expiry
	DisableAutoUpdates bool
}

// CheckPermission reports whether the admin holds the capability. A
// missing permission is a false result, not an error; only transport
// failure returns an error.
func (m *Manager) CheckPermission(ctx context.Context, adminID, capability string) (bool, error) {
	ok, err := m.store.HasPermission(ctx, adminID, capability)
	if err != nil {
		return false, fmt.Errorf("permission check: %w", err)
	}
	return ok, nil
}

// CreateOverride validates the params, deactivates any prior active
// override for the symbol, and inserts the new one plus an audit record.
// All validation failures are reported together.
func (m *Manager) CreateOverride(ctx context.Context, p CreateParams) (*models.PriceOverride, error) {
	allowed, err := m.CheckPermission(ctx, p.AdminID, types.CapPriceOverride)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("admin %s lacks %s: %w", p.AdminID, types.CapPriceOverride, types.ErrPermissionDenied)
	}

	if err := validateCreate(p); err != nil {
		return nil, err
	}

	now := m.now()
	ov := &models.PriceOverride{
		AdminID:            p.AdminID,
		Symbol:             p.Symbol,
		PriceUSD:           p.PriceUSD,
		PriceLocal:         p.PriceUSD.Mul(p.FxRate),
		FxRate:             p.FxRate,
		Reason:             p.Reason,
		DisableAutoUpdates: p.DisableAutoUpdates,
		Status:             string(types.OverrideActive),
	}
	if p.Duration > 0 {
		expires := now.Add(p.Duration)
		ov.ExpiresAt = &expires
	}

	err = m.store.Transact(ctx, func(st store.Store) error {
		prior, err := st.GetActiveOverride(ctx, p.Symbol)
		if err != nil {
			return err
		}
		if prior != nil {
			// At most one active override per symbol.
			prior.Status = string(types.OverrideDeactivated)
			if err := st.UpdateOverride(ctx, prior); err != nil {
				return err
			}
			audit := &models.OverrideAudit{
				AuditID:    uuid.NewString(),
				OverrideID: prior.ID,
				Action:     "deactivate",
				ActorID:    p.AdminID,
				Reason:     "superseded by a newer override",
			}
			if err := st.InsertAudit(ctx, audit); err != nil {
				return err
			}
		}

		if err := st.InsertOverride(ctx, ov); err != nil {
			return err
		}
		return st.InsertAudit(ctx, &models.OverrideAudit{
			AuditID:    uuid.NewString(),
			OverrideID: ov.ID,
			Action:     "create",
			ActorID:    p.AdminID,
			Reason:     p.Reason,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create override: %w", err)
	}

	m.logger.Info("Price override created",
		zap.String("admin_id", p.AdminID),
		zap.String("symbol", p.Symbol),
		zap.String("price_usd", p.PriceUSD.String()),
		zap.Bool("disable_auto_updates", p.DisableAutoUpdates))
	return ov, nil
}

// DeactivateOverride moves an active override to its terminal deactivated
// state and appends an audit record. Deactivating a non-active override
// is an InvalidState error.
func (m *Manager) DeactivateOverride(ctx context.Context, id uint, adminID, reason string) error {
	allowed, err := m.CheckPermission(ctx, adminID, types.CapPriceOverride)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("admin %s lacks %s: %w", adminID, types.CapPriceOverride, types.ErrPermissionDenied)
	}

	err = m.store.Transact(ctx, func(st store.Store) error {
		ov, err := st.GetOverride(ctx, id)
		if err != nil {
			return err
		}
		if ov.Status != string(types.OverrideActive) {
			return fmt.Errorf("override %d is %s: %w", id, ov.Status, types.ErrInvalidState)
		}
		ov.Status = string(types.OverrideDeactivated)
		if err := st.UpdateOverride(ctx, ov); err != nil {
			return err
		}
		return st.InsertAudit(ctx, &models.OverrideAudit{
			AuditID:    uuid.NewString(),
			OverrideID: ov.ID,
			Action:     "deactivate",
			ActorID:    adminID,
			Reason:     reason,
		})
	})
	if err != nil {
		return err
	}

	m.logger.Info("Price override deactivated",
		zap.Uint("override_id", id),
		zap.String("admin_id", adminID))
	return nil
}

// GetActiveOverride returns the active, unexpired override for the
// symbol, or nil. Expiry is evaluated lazily here: a past-expiry override
// is transitioned to expired on read, not by a background sweep.
func (m *Manager) GetActiveOverride(ctx context.Context, symbol string) (*models.PriceOverride, error) {
	ov, err := m.store.GetActiveOverride(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if ov == nil {
		return nil, nil
	}
	if ov.ExpiredAt(m.now()) {
		ov.Status = string(types.OverrideExpired)
		if err := m.store.UpdateOverride(ctx, ov); err != nil {
			m.logger.Warn("Failed to persist override expiry", zap.Uint("override_id", ov.ID), zap.Error(err))
		}
		return nil, nil
	}
	return ov, nil
}

// GetEffectivePrice composes the fallback quote with the active override.
// An active override fully replaces the quote and is tagged accordingly.
func (m *Manager) GetEffectivePrice(ctx context.Context, fallback models.PriceQuote) (models.PriceQuote, error) {
	ov, err := m.GetActiveOverride(ctx, fallback.Symbol)
	if err != nil {
		return fallback, err
	}
	if ov == nil {
		return fallback, nil
	}
	return m.QuoteFromOverride(ov, fallback), nil
}

// QuoteFromOverride builds the effective quote an override produces. The
// 24h stats are carried over from the fallback so consumers keep seeing
// market context.
func (m *Manager) QuoteFromOverride(ov *models.PriceOverride, fallback models.PriceQuote) models.PriceQuote {
	now := m.now()
	return models.PriceQuote{
		Symbol:     ov.Symbol,
		PriceUSD:   ov.PriceUSD,
		PriceLocal: ov.PriceLocal,
		FxRate:     ov.FxRate,
		Change24h:  fallback.Change24h,
		Volume24h:  fallback.Volume24h,
		High24h:    fallback.High24h,
		Low24h:     fallback.Low24h,
		Source:     types.SourceOverride,
		ObservedAt: now,
		FetchedAt:  now,
	}
}

// ListAudits returns the audit trail for one override, oldest first.
func (m *Manager) ListAudits(ctx context.Context, overrideID uint) ([]models.OverrideAudit, error) {
	return m.store.ListAudits(ctx, overrideID)
}

func validateCreate(p CreateParams) error {
	ve := &types.ValidationError{}

	if p.Symbol == "" {
		ve.Add("symbol is required")
	}
	if !p.PriceUSD.IsPositive() {
		ve.Add("price must be positive, got %s", p.PriceUSD)
	} else if p.PriceUSD.LessThan(minOverridePrice) || p.PriceUSD.GreaterThan(maxOverridePrice) {
		ve.Add("price %s is outside the allowed band [%s, %s]",
			p.PriceUSD, minOverridePrice, maxOverridePrice)
	}
	if !p.FxRate.IsPositive() {
		ve.Add("fx rate must be positive, got %s", p.FxRate)
	}
	if len(strings.TrimSpace(p.Reason)) < minReasonLength {
		ve.Add("reason must be at least %d characters", minReasonLength)
	}
	if p.Duration < 0 {
		ve.Add("duration must be positive when given, got %s", p.Duration)
	}

	return ve.Err()
}
