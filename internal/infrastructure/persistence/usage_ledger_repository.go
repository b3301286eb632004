package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
	"github.com/verimail/backend/internal/domain/usage"
)

// UsageRecordModel is the GORM model for usage records. One row per
// billing account; sub-account consumption lands on the owner's row.
type UsageRecordModel struct {
	BillingAccountID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Consumed         int64     `gorm:"not null;default:0"`
	PeriodStart      time.Time `gorm:"not null"`
	UpdatedAt        time.Time
}

// TableName specifies the table name
func (UsageRecordModel) TableName() string {
	return "usage_records"
}

// GormUsageLedger implements usage.Ledger on Postgres. The commit path
// is a single conditional UPDATE with the limit as a ceiling, so
// near-limit commits racing on the same row serialize on the row lock
// and never overshoot.
type GormUsageLedger struct {
	db *gorm.DB
}

// NewGormUsageLedger creates a new database-backed ledger
func NewGormUsageLedger(db *gorm.DB) *GormUsageLedger {
	return &GormUsageLedger{db: db}
}

// ensureRecord inserts the zero record for the current period if the
// billing account has never consumed. Safe under concurrency: the
// insert does nothing when the row already exists.
func (l *GormUsageLedger) ensureRecord(ctx context.Context, billingID uuid.UUID, periodStart time.Time) error {
	model := UsageRecordModel{
		BillingAccountID: billingID,
		Consumed:         0,
		PeriodStart:      periodStart,
		UpdatedAt:        time.Now(),
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "billing_account_id"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// resetExpired rolls an expired record forward to the current period.
// The period_start guard makes the reset idempotent: when two readers
// race, only one statement changes the row and the counter is zeroed
// exactly once.
func (l *GormUsageLedger) resetExpired(ctx context.Context, billingID uuid.UUID, periodStart time.Time) error {
	err := l.db.WithContext(ctx).
		Model(&UsageRecordModel{}).
		Where("billing_account_id = ? AND period_start < ?", billingID, periodStart).
		Updates(map[string]interface{}{
			"consumed":     0,
			"period_start": periodStart,
			"updated_at":   time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reset usage record: %w", err)
	}
	return nil
}

// CurrentUsage returns the effective record, applying the lazy reset
func (l *GormUsageLedger) CurrentUsage(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle) (usage.Record, error) {
	now := time.Now()
	currentStart := usage.PeriodStart(bundle.Reset, now)

	var model UsageRecordModel
	err := l.db.WithContext(ctx).First(&model, "billing_account_id = ?", billingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return usage.Record{
			BillingAccountID: billingID,
			Consumed:         0,
			PeriodStart:      currentStart,
		}, nil
	}
	if err != nil {
		return usage.Record{}, fmt.Errorf("failed to read usage record: %w", err)
	}

	if usage.PeriodExpired(bundle.Reset, model.PeriodStart.UTC(), now) {
		if err := l.resetExpired(ctx, billingID, currentStart); err != nil {
			return usage.Record{}, err
		}
		if err := l.db.WithContext(ctx).First(&model, "billing_account_id = ?", billingID).Error; err != nil {
			return usage.Record{}, fmt.Errorf("failed to re-read usage record: %w", err)
		}
	}

	return usage.Record{
		BillingAccountID: billingID,
		Consumed:         model.Consumed,
		PeriodStart:      model.PeriodStart.UTC(),
	}, nil
}

// Commit atomically adds delta, enforcing the bundle limit as a ceiling
func (l *GormUsageLedger) Commit(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle, delta int64) (int64, error) {
	now := time.Now()
	currentStart := usage.PeriodStart(bundle.Reset, now)

	if err := l.ensureRecord(ctx, billingID, currentStart); err != nil {
		return 0, err
	}
	if err := l.resetExpired(ctx, billingID, currentStart); err != nil {
		return 0, err
	}

	result := l.db.WithContext(ctx).
		Model(&UsageRecordModel{}).
		Where("billing_account_id = ? AND period_start = ? AND consumed + ? <= ?",
			billingID, currentStart, delta, bundle.Limit).
		Updates(map[string]interface{}{
			"consumed":   gorm.Expr("consumed + ?", delta),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to commit usage: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		// Either the ceiling blocked the increment or the row's period
		// moved under us. Re-read to tell the two apart.
		record, err := l.CurrentUsage(ctx, billingID, bundle)
		if err != nil {
			return 0, err
		}
		if record.Consumed+delta > bundle.Limit {
			return record.Consumed, shared.ErrQuotaExceeded
		}
		return 0, fmt.Errorf("%w: usage record for %s changed during commit",
			shared.ErrConcurrencyConflict, billingID)
	}

	var model UsageRecordModel
	if err := l.db.WithContext(ctx).First(&model, "billing_account_id = ?", billingID).Error; err != nil {
		return 0, fmt.Errorf("failed to re-read usage record: %w", err)
	}
	return model.Consumed, nil
}

// ForceReset zeroes the record and restamps its period
func (l *GormUsageLedger) ForceReset(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle) error {
	currentStart := usage.PeriodStart(bundle.Reset, time.Now())
	model := UsageRecordModel{
		BillingAccountID: billingID,
		Consumed:         0,
		PeriodStart:      currentStart,
		UpdatedAt:        time.Now(),
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "billing_account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"consumed", "period_start", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to force-reset usage record: %w", err)
	}
	return nil
}

// Ensure GormUsageLedger implements usage.Ledger
var _ usage.Ledger = (*GormUsageLedger)(nil)
