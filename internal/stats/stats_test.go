package stats_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/p2p-usdt-api/internal/identity"
	"github.com/ksred/p2p-usdt-api/internal/offer"
	"github.com/ksred/p2p-usdt-api/internal/order"
	"github.com/ksred/p2p-usdt-api/internal/stats"
	"github.com/ksred/p2p-usdt-api/internal/testutil"
	"github.com/ksred/p2p-usdt-api/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedOrder(t *testing.T, db *gorm.DB, id, status, currency string, qty, price int64, completedAt *time.Time) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&order.Order{
		OrderID:         id,
		OfferID:         "OFR_1",
		BuyerWallet:     testutil.Wallet('B'),
		SellerWallet:    testutil.Wallet('S'),
		Quantity:        money.NewFromInt(qty),
		AgreedPrice:     money.NewFromInt(price),
		FiatTotal:       money.NewFromInt(qty * price),
		Currency:        currency,
		PaymentDeadline: now.Add(15 * time.Minute),
		Status:          status,
		CompletedAt:     completedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}).Error)
}

func TestMarket(t *testing.T) {
	db := testutil.NewDB(t, &offer.Offer{}, &order.Order{}, &identity.UserWallet{})
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	for i, status := range []string{offer.StatusActive, offer.StatusActive, offer.StatusPaused} {
		require.NoError(t, db.Create(&offer.Offer{
			OfferID:     "OFR_" + string(rune('a'+i)),
			OwnerWallet: testutil.Wallet('S'),
			Status:      status,
		}).Error)
	}

	seedOrder(t, db, "ORD_1", order.StatusCompleted, "COP", 100, 4000, &now)
	seedOrder(t, db, "ORD_2", order.StatusCompleted, "COP", 50, 4000, &now)
	seedOrder(t, db, "ORD_3", order.StatusCompleted, "MXN", 10, 17, &old)
	seedOrder(t, db, "ORD_4", order.StatusPending, "COP", 10, 4000, nil)
	seedOrder(t, db, "ORD_5", order.StatusCancelled, "COP", 10, 4000, nil)

	users := identity.NewService(db, nil)
	require.NoError(t, users.RecordLogin(ctx, testutil.Wallet('B'), now))
	require.NoError(t, users.RecordLogin(ctx, testutil.Wallet('S'), old))

	market, err := stats.NewService(db).Market(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), market.ActiveOffers)
	assert.Equal(t, map[string]int64{
		order.StatusCompleted: 3,
		order.StatusPending:   1,
		order.StatusCancelled: 1,
	}, market.OrdersByStatus)
	assert.True(t, market.CompletedVolumeUSDT.Equal(decimal.NewFromInt(160)), market.CompletedVolumeUSDT.String())

	require.Len(t, market.Volume24h, 1)
	assert.Equal(t, "COP", market.Volume24h[0].Currency)
	assert.Equal(t, int64(2), market.Volume24h[0].Orders)
	assert.True(t, market.Volume24h[0].FiatVolume.Equal(decimal.NewFromInt(600000)))
	assert.True(t, market.Volume24h[0].USDTVolume.Equal(decimal.NewFromInt(150)))

	assert.Equal(t, int64(2), market.TotalUsers)
	assert.Equal(t, int64(1), market.ActiveUsers24h)
}

func TestMarketFractionalVolume(t *testing.T) {
	db := testutil.NewDB(t, &offer.Offer{}, &order.Order{}, &identity.UserWallet{})
	now := time.Now().UTC()

	for i, qty := range []string{"0.1", "0.2", "123.456789"} {
		require.NoError(t, db.Create(&order.Order{
			OrderID:     "ORD_" + qty,
			OfferID:     "OFR_1",
			Quantity:    money.RequireFromString(qty),
			AgreedPrice: money.RequireFromString("3850.12"),
			FiatTotal:   money.New(decimal.RequireFromString(qty).Mul(decimal.RequireFromString("3850.12"))),
			Currency:    "COP",
			Status:      order.StatusCompleted,
			CompletedAt: &now,
			CreatedAt:   now.Add(time.Duration(i) * time.Second),
			UpdatedAt:   now,
		}).Error)
	}

	market, err := stats.NewService(db).Market(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123.756789", market.CompletedVolumeUSDT.String())
	require.Len(t, market.Volume24h, 1)
	assert.Equal(t, "476478.48846468", market.Volume24h[0].FiatVolume.String())
}

func TestMarketEmpty(t *testing.T) {
	db := testutil.NewDB(t, &offer.Offer{}, &order.Order{}, &identity.UserWallet{})

	market, err := stats.NewService(db).Market(context.Background())
	require.NoError(t, err)
	assert.Zero(t, market.ActiveOffers)
	assert.Empty(t, market.OrdersByStatus)
	assert.True(t, market.CompletedVolumeUSDT.IsZero())
	assert.NotNil(t, market.Volume24h)
}

func TestCompletedTradesFeedsProfile(t *testing.T) {
	db := testutil.NewDB(t, &order.Order{}, &identity.UserWallet{})
	ctx := context.Background()
	now := time.Now().UTC()
	seedOrder(t, db, "ORD_1", order.StatusCompleted, "COP", 100, 4000, &now)
	seedOrder(t, db, "ORD_2", order.StatusDisputed, "COP", 100, 4000, nil)

	users := identity.NewService(db, stats.NewService(db))
	require.NoError(t, users.RecordLogin(ctx, testutil.Wallet('S'), now))

	profile, err := users.Profile(ctx, testutil.Wallet('S'))
	require.NoError(t, err)
	assert.Equal(t, int64(1), profile.CompletedTrades)
}

func TestMarketStatsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t, &offer.Offer{}, &order.Order{}, &identity.UserWallet{})
	router := gin.New()
	router.GET("/p2p/stats", stats.NewGinHandlers(stats.NewService(db)).MarketStatsHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p2p/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active_offers":0`)
}
