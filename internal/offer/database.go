package offer

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/p2p-usdt-api/pkg/money"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOffer(ctx context.Context, offer *Offer) error {
	return d.db.WithContext(ctx).Create(offer).Error
}

// GetOffer returns nil, nil when the offer does not exist
func (d *Database) GetOffer(ctx context.Context, offerID string) (*Offer, error) {
	return getOffer(d.db.WithContext(ctx), offerID)
}

func getOffer(db *gorm.DB, offerID string) (*Offer, error) {
	var offer Offer
	if err := db.Where("offer_id = ?", offerID).First(&offer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

func (d *Database) ListActiveByCountry(ctx context.Context, country string, filter ListFilter) ([]Offer, error) {
	query := d.db.WithContext(ctx).
		Where("country_code = ? AND status = ?", country, StatusActive)

	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", filter.Currency)
	}
	if filter.PaymentMethod != "" {
		query = query.Where("payment_method = ?", filter.PaymentMethod)
	}
	if filter.MinAmount.Valid {
		query = query.Where(money.Numeric("min_quantity")+" >= ?", filter.MinAmount.Decimal)
	}
	if filter.MaxAmount.Valid {
		query = query.Where(money.Numeric("max_quantity")+" <= ?", filter.MaxAmount.Decimal)
	}

	var offers []Offer
	if err := query.Order("created_at DESC, id DESC").Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

func (d *Database) ListByWallet(ctx context.Context, wallet, status string) ([]Offer, error) {
	query := d.db.WithContext(ctx).Where("owner_wallet = ?", wallet)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var offers []Offer
	if err := query.Order("created_at DESC, id DESC").Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

// CompareAndSetStatus moves the offer from one status to another. It reports
// false when the offer was not in the expected status.
func (d *Database) CompareAndSetStatus(ctx context.Context, offerID, from, to string, at time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Model(&Offer{}).
		Where("offer_id = ? AND status = ?", offerID, from).
		Updates(map[string]interface{}{
			"status":           to,
			"last_activity_at": at,
			"updated_at":       at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateTerms writes new offer terms while the offer is still in one of the
// given statuses. It reports false when the offer left them first.
func (d *Database) UpdateTerms(ctx context.Context, offerID string, statuses []string, updates map[string]interface{}) (bool, error) {
	result := d.db.WithContext(ctx).Model(&Offer{}).
		Where("offer_id = ? AND status IN ?", offerID, statuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IncrementCompletedTrades bumps the trade counter in a single statement so that
// concurrent completions never lose an update. It runs on the caller's transaction.
func IncrementCompletedTrades(tx *gorm.DB, offerID string, at time.Time) error {
	result := tx.Model(&Offer{}).
		Where("offer_id = ?", offerID).
		Updates(map[string]interface{}{
			"completed_trades": gorm.Expr("completed_trades + ?", 1),
			"last_activity_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetOfferTx reads an offer on the caller's transaction
func GetOfferTx(tx *gorm.DB, offerID string) (*Offer, error) {
	return getOffer(tx, offerID)
}
