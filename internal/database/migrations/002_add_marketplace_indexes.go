package migrations

import "gorm.io/gorm"

// AddMarketplaceIndexes covers offer browsing, chat paging and the settlement queue
func AddMarketplaceIndexes(db *gorm.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_offers_country_status_created
		 ON offers(country_code, status, created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_chat_messages_order_id
		 ON chat_messages(order_id, id)`,

		`CREATE INDEX IF NOT EXISTS idx_settlements_status_next_attempt
		 ON settlements(settlement_status, next_attempt_at)`,
	}
	return execAll(db, indexes)
}
