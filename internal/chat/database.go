package chat

import (
	"context"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn in a single transaction
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.db.WithContext(ctx).Transaction(fn)
}

// ListPage returns up to limit messages of an order with a row id above afterID, oldest first
func (d *Database) ListPage(ctx context.Context, orderID string, afterID uint, limit int) ([]Message, error) {
	var messages []Message
	err := d.db.WithContext(ctx).
		Where("order_id = ? AND id > ?", orderID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
