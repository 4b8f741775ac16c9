package identity

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

// GetWallet returns nil, nil when the wallet has no profile
func (d *Database) GetWallet(ctx context.Context, wallet string) (*UserWallet, error) {
	var user UserWallet
	if err := d.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// UpsertLogin creates the profile on first sign-in and stamps the login time
func (d *Database) UpsertLogin(ctx context.Context, wallet string, at time.Time) error {
	user := &UserWallet{
		WalletAddress: wallet,
		IsActive:      true,
		LastLoginAt:   &at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"last_login_at": at, "updated_at": at}),
	}).Create(user).Error
}

func (d *Database) UsernameTaken(ctx context.Context, username, exceptWallet string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&UserWallet{}).
		Where("username = ? AND wallet_address <> ?", username, exceptWallet).
		Count(&count).Error
	return count > 0, err
}

func (d *Database) SetUsername(ctx context.Context, wallet, username string, at time.Time) error {
	return d.db.WithContext(ctx).Model(&UserWallet{}).
		Where("wallet_address = ?", wallet).
		Updates(map[string]interface{}{
			"username":   username,
			"updated_at": at,
		}).Error
}
