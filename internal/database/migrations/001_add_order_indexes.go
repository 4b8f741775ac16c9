package migrations

import "gorm.io/gorm"

// AddOrderIndexes adds the composite indexes behind the expiry sweep and the
// per wallet order history
func AddOrderIndexes(db *gorm.DB) error {
	indexes := []string{
		// Expiry sweep: pending orders past their deadline
		`CREATE INDEX IF NOT EXISTS idx_orders_status_deadline
		 ON orders(status, payment_deadline)`,

		// Order history, newest first
		`CREATE INDEX IF NOT EXISTS idx_orders_buyer_created
		 ON orders(buyer_wallet, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_seller_created
		 ON orders(seller_wallet, created_at)`,

		// Completed volume by day
		`CREATE INDEX IF NOT EXISTS idx_orders_status_completed
		 ON orders(status, completed_at)`,
	}
	return execAll(db, indexes)
}

func execAll(db *gorm.DB, statements []string) error {
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
