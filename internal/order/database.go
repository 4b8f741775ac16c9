package order

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOrder returns nil, nil when the order does not exist
func (d *Database) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return getOrder(d.db.WithContext(ctx), orderID)
}

func getOrder(db *gorm.DB, orderID string) (*Order, error) {
	var order Order
	if err := db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// lockOrder reads an order with a row lock held until the transaction ends.
// sqlite has no row locks; its single writer already serializes the transaction.
func lockOrder(tx *gorm.DB, orderID string) (*Order, error) {
	return getOrder(tx.Clauses(clause.Locking{Strength: "UPDATE"}), orderID)
}

// ListByWallet returns orders where wallet is the buyer or the seller, newest first
func (d *Database) ListByWallet(ctx context.Context, wallet, status string) ([]Order, error) {
	query := d.db.WithContext(ctx).
		Where("buyer_wallet = ? OR seller_wallet = ?", wallet, wallet)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var orders []Order
	if err := query.Order("created_at DESC, id DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListExpired returns pending orders whose payment deadline has passed
func (d *Database) ListExpired(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	var orders []Order
	err := d.db.WithContext(ctx).
		Where("status = ? AND payment_deadline <= ?", StatusPending, now).
		Order("payment_deadline ASC, id ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// InTransaction runs fn in a transaction, rolling back when it returns an error or panics
func (d *Database) InTransaction(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// compareAndSwapStatus applies updates only while the order is still in from.
// It reports false when a concurrent transition won.
func compareAndSwapStatus(tx *gorm.DB, orderID, from string, updates map[string]interface{}) (bool, error) {
	result := tx.Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetIdempotencyRecord returns nil, nil when the key is unknown or expired
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := d.db.WithContext(ctx).
		Where("idempotency_key = ? AND expires_at > ?", key, now).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// saveIdempotencyRecord stores the key, replacing an expired record for it
func saveIdempotencyRecord(tx *gorm.DB, record *IdempotencyRecord, now time.Time) error {
	if err := tx.Where("idempotency_key = ? AND expires_at <= ?", record.IdempotencyKey, now).
		Delete(&IdempotencyRecord{}).Error; err != nil {
		return err
	}
	return tx.Create(record).Error
}
