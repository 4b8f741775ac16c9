package stats

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStats is a point in time summary of the marketplace
type MarketStats struct {
	ActiveOffers        int64            `json:"active_offers"`
	OrdersByStatus      map[string]int64 `json:"orders_by_status"`
	CompletedVolumeUSDT decimal.Decimal  `json:"completed_volume_usdt"`
	Volume24h           []CurrencyVolume `json:"volume_24h"`
	TotalUsers          int64            `json:"total_users"`
	ActiveUsers24h      int64            `json:"active_users_24h"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

// CurrencyVolume is the completed fiat volume of one currency
type CurrencyVolume struct {
	Currency   string          `json:"currency"`
	Orders     int64           `json:"orders"`
	FiatVolume decimal.Decimal `json:"fiat_volume"`
	USDTVolume decimal.Decimal `json:"usdt_volume"`
}

type statusCount struct {
	Status string
	Count  int64
}
