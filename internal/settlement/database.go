package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateIntentTx records a pending release on the caller's transaction. A
// second intent for the same order is ignored.
func CreateIntentTx(tx *gorm.DB, intent Intent, at time.Time) (*Settlement, error) {
	settlement := &Settlement{
		SettlementID:     "STL_" + uuid.New().String(),
		OrderID:          intent.OrderID,
		OfferID:          intent.OfferID,
		SellerWallet:     intent.SellerWallet,
		BuyerWallet:      intent.BuyerWallet,
		Quantity:         intent.Quantity,
		SettlementStatus: StatusPending,
		NextAttemptAt:    at,
		CreatedAt:        at,
		UpdatedAt:        at,
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(settlement).Error
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// GetByOrderID returns nil, nil when the order has no settlement
func (d *Database) GetByOrderID(ctx context.Context, orderID string) (*Settlement, error) {
	var settlement Settlement
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&settlement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settlement, nil
}

// ReleaseStaleClaims returns SETTLING rows claimed before cutoff to PENDING
func (d *Database) ReleaseStaleClaims(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Model(&Settlement{}).
		Where("settlement_status = ? AND claimed_at < ?", StatusSettling, cutoff).
		Updates(map[string]interface{}{
			"settlement_status": StatusPending,
			"claimed_at":        nil,
			"next_attempt_at":   now,
			"updated_at":        now,
		})
	return result.RowsAffected, result.Error
}

func (d *Database) ListDue(ctx context.Context, now time.Time, limit int) ([]Settlement, error) {
	var settlements []Settlement
	err := d.db.WithContext(ctx).
		Where("settlement_status = ? AND next_attempt_at <= ?", StatusPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&settlements).Error
	if err != nil {
		return nil, err
	}
	return settlements, nil
}

// Claim moves a pending row to SETTLING and counts the attempt. It reports
// false when another worker got there first.
func (d *Database) Claim(ctx context.Context, id uint, now time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Model(&Settlement{}).
		Where("id = ? AND settlement_status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"settlement_status": StatusSettling,
			"attempts":          gorm.Expr("attempts + ?", 1),
			"claimed_at":        now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// finish moves a claimed row out of SETTLING
func (d *Database) finish(ctx context.Context, id uint, updates map[string]interface{}) (bool, error) {
	result := d.db.WithContext(ctx).Model(&Settlement{}).
		Where("id = ? AND settlement_status = ?", id, StatusSettling).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (d *Database) MarkSettled(ctx context.Context, id uint, reference string, now time.Time) (bool, error) {
	return d.finish(ctx, id, map[string]interface{}{
		"settlement_status": StatusSettled,
		"reference":         reference,
		"last_error":        "",
		"settled_at":        now,
		"claimed_at":        nil,
		"updated_at":        now,
	})
}

func (d *Database) MarkRetry(ctx context.Context, id uint, lastErr string, next, now time.Time) (bool, error) {
	return d.finish(ctx, id, map[string]interface{}{
		"settlement_status": StatusPending,
		"last_error":        lastErr,
		"next_attempt_at":   next,
		"claimed_at":        nil,
		"updated_at":        now,
	})
}

func (d *Database) MarkFailed(ctx context.Context, id uint, lastErr string, now time.Time) (bool, error) {
	return d.finish(ctx, id, map[string]interface{}{
		"settlement_status": StatusFailed,
		"last_error":        lastErr,
		"claimed_at":        nil,
		"updated_at":        now,
	})
}

// ListUnacknowledged returns settled rows whose order completion has not been recorded
func (d *Database) ListUnacknowledged(ctx context.Context, limit int) ([]Settlement, error) {
	var settlements []Settlement
	err := d.db.WithContext(ctx).
		Where("settlement_status = ? AND acknowledged_at IS NULL", StatusSettled).
		Order("id ASC").
		Limit(limit).
		Find(&settlements).Error
	if err != nil {
		return nil, err
	}
	return settlements, nil
}

func (d *Database) MarkAcknowledged(ctx context.Context, id uint, now time.Time) error {
	return d.db.WithContext(ctx).Model(&Settlement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"acknowledged_at": now,
			"updated_at":      now,
		}).Error
}
