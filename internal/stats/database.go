package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/p2p-usdt-api/pkg/money"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CountActiveOffers(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM offers WHERE status = ?`, "active").
		Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count active offers: %w", err)
	}
	return count, nil
}

func (d *Database) CountOrdersByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []statusCount
	if err := d.db.WithContext(ctx).Raw(`
		SELECT status, COUNT(*) AS count
		FROM orders
		GROUP BY status`).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (d *Database) CompletedVolume(ctx context.Context) (decimal.Decimal, error) {
	var row struct {
		Volume decimal.Decimal
	}
	if err := d.db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(`+money.Numeric("quantity")+`), 0) AS volume
		FROM orders
		WHERE status = ?`, "completed").
		Scan(&row).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum completed volume: %w", err)
	}
	return row.Volume.Round(money.Scale), nil
}

// VolumeByCurrency sums orders completed since the given time per currency.
// sqlite sums in float64, so totals are rounded back to money.Scale.
func (d *Database) VolumeByCurrency(ctx context.Context, since time.Time) ([]CurrencyVolume, error) {
	var rows []CurrencyVolume
	if err := d.db.WithContext(ctx).Raw(`
		SELECT currency,
			COUNT(*) AS orders,
			COALESCE(SUM(`+money.Numeric("fiat_total")+`), 0) AS fiat_volume,
			COALESCE(SUM(`+money.Numeric("quantity")+`), 0) AS usdt_volume
		FROM orders
		WHERE status = ? AND completed_at >= ?
		GROUP BY currency
		ORDER BY currency`, "completed", since).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to sum volume by currency: %w", err)
	}
	for i := range rows {
		rows[i].FiatVolume = rows[i].FiatVolume.Round(money.Scale)
		rows[i].USDTVolume = rows[i].USDTVolume.Round(money.Scale)
	}
	return rows, nil
}

func (d *Database) CountUsers(ctx context.Context, activeSince time.Time) (total, active int64, err error) {
	var row struct {
		Total  int64
		Active int64
	}
	if err := d.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN last_login_at >= ? THEN 1 ELSE 0 END), 0) AS active
		FROM user_wallets`, activeSince).
		Scan(&row).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	return row.Total, row.Active, nil
}

// CountCompletedTrades counts completed orders where wallet was buyer or seller
func (d *Database) CountCompletedTrades(ctx context.Context, wallet string) (int64, error) {
	var count int64
	if err := d.db.WithContext(ctx).Raw(`
		SELECT COUNT(*)
		FROM orders
		WHERE status = ? AND (buyer_wallet = ? OR seller_wallet = ?)`, "completed", wallet, wallet).
		Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count completed trades: %w", err)
	}
	return count, nil
}
