package offer

import (
	"context"
	"testing"
	"time"

	"github.com/ksred/p2p-usdt-api/internal/testutil"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixedReputation float64

func (r fixedReputation) Reputation(ctx context.Context, wallet string) (float64, error) {
	return float64(r), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t, &Offer{})
	return NewService(db, fixedReputation(4.5)), db
}

func sellInput() CreateOfferInput {
	return CreateOfferInput{
		Type:          TypeSell,
		Price:         decimal.NewFromInt(3850),
		MinQuantity:   decimal.NewFromInt(50),
		MaxQuantity:   decimal.NewFromInt(1000),
		CountryCode:   "co",
		Currency:      "cop",
		PaymentMethod: PaymentBankTransfer,
		BankName:      "Bancolombia",
		AccountNumber: "123-456789-00",
	}
}

func countOffers(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&Offer{}).Count(&count).Error)
	return count
}

func TestCreateOffer(t *testing.T) {
	svc, _ := newTestService(t)
	owner := testutil.Wallet('A')

	offer, err := svc.Create(context.Background(), owner, "10.0.0.1", sellInput())
	require.NoError(t, err)

	assert.Contains(t, offer.OfferID, "OFR_")
	assert.Equal(t, owner, offer.OwnerWallet)
	assert.Equal(t, StatusActive, offer.Status)
	assert.Equal(t, "CO", offer.CountryCode)
	assert.Equal(t, "COP", offer.Currency)
	assert.Equal(t, DefaultTimeLimitMinutes, offer.TimeLimitMinutes)
	assert.Equal(t, int64(0), offer.CompletedTrades)
	assert.Equal(t, 4.5, offer.Reputation)
	assert.Equal(t, "10.0.0.1", offer.CreationIP)

	stored, err := svc.Get(context.Background(), offer.OfferID)
	require.NoError(t, err)
	assert.True(t, stored.Price.Equal(decimal.NewFromInt(3850)))
	assert.True(t, stored.MinQuantity.Equal(decimal.NewFromInt(50)))
	assert.True(t, stored.MaxQuantity.Equal(decimal.NewFromInt(1000)))
}

func TestCreateOfferValidation(t *testing.T) {
	tests := []struct {
		name   string
		wallet string
		modify func(in *CreateOfferInput)
	}{
		{"short wallet", "TSHORT", func(in *CreateOfferInput) {}},
		{"wallet without T prefix", "X" + testutil.Wallet('A')[1:], func(in *CreateOfferInput) {}},
		{"unknown type", "", func(in *CreateOfferInput) { in.Type = "swap" }},
		{"bad country", "", func(in *CreateOfferInput) { in.CountryCode = "COL" }},
		{"bad currency", "", func(in *CreateOfferInput) { in.Currency = "CO" }},
		{"unknown payment method", "", func(in *CreateOfferInput) { in.PaymentMethod = "barter" }},
		{"bank transfer without bank", "", func(in *CreateOfferInput) { in.BankName = "" }},
		{"bank transfer without account", "", func(in *CreateOfferInput) { in.AccountNumber = "" }},
		{"digital wallet without number", "", func(in *CreateOfferInput) {
			in.PaymentMethod = PaymentDigitalWallet
			in.WalletType = "Nequi"
		}},
		{"time limit too short", "", func(in *CreateOfferInput) { in.TimeLimitMinutes = 2 }},
		{"time limit too long", "", func(in *CreateOfferInput) { in.TimeLimitMinutes = 90 }},
		{"zero price", "", func(in *CreateOfferInput) { in.Price = decimal.Zero }},
		{"negative price", "", func(in *CreateOfferInput) { in.Price = decimal.NewFromInt(-1) }},
		{"zero min", "", func(in *CreateOfferInput) { in.MinQuantity = decimal.Zero }},
		{"min equals max", "", func(in *CreateOfferInput) { in.MinQuantity = in.MaxQuantity }},
		{"min above max", "", func(in *CreateOfferInput) { in.MinQuantity = decimal.NewFromInt(2000) }},
		{"price below a cent", "", func(in *CreateOfferInput) { in.Price = decimal.RequireFromString("3850.125") }},
		{"min below a micro usdt", "", func(in *CreateOfferInput) { in.MinQuantity = decimal.RequireFromString("0.0000001") }},
		{"max below a micro usdt", "", func(in *CreateOfferInput) { in.MaxQuantity = decimal.RequireFromString("1000.0000001") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db := newTestService(t)
			wallet := tt.wallet
			if wallet == "" {
				wallet = testutil.Wallet('A')
			}
			input := sellInput()
			tt.modify(&input)

			offer, err := svc.Create(context.Background(), wallet, "", input)
			assert.Nil(t, offer)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, int64(0), countOffers(t, db))
		})
	}
}

func TestCreateOfferReportsFirstViolation(t *testing.T) {
	svc, _ := newTestService(t)
	input := sellInput()
	input.Type = "swap"
	input.Price = decimal.Zero

	_, err := svc.Create(context.Background(), testutil.Wallet('A'), "", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type")

	_, err = svc.Create(context.Background(), "bad", "", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")
}

func TestCreateOfferDigitalWallet(t *testing.T) {
	svc, _ := newTestService(t)
	input := sellInput()
	input.PaymentMethod = PaymentDigitalWallet
	input.BankName = ""
	input.AccountNumber = ""
	input.WalletType = "Nequi"
	input.WalletNumber = "3001234567"
	input.TimeLimitMinutes = 30

	offer, err := svc.Create(context.Background(), testutil.Wallet('A'), "", input)
	require.NoError(t, err)
	assert.Equal(t, 30, offer.TimeLimitMinutes)
	assert.Equal(t, "Nequi", offer.WalletType)
}

func TestListActive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	create := func(modify func(in *CreateOfferInput)) *Offer {
		input := sellInput()
		modify(&input)
		offer, err := svc.Create(ctx, testutil.Wallet('A'), "", input)
		require.NoError(t, err)
		return offer
	}

	older := create(func(in *CreateOfferInput) {})
	newer := create(func(in *CreateOfferInput) {
		in.MinQuantity = decimal.NewFromInt(200)
		in.MaxQuantity = decimal.NewFromInt(500)
	})
	buy := create(func(in *CreateOfferInput) { in.Type = TypeBuy })
	create(func(in *CreateOfferInput) {
		in.CountryCode = "MX"
		in.Currency = "MXN"
	})
	paused := create(func(in *CreateOfferInput) {})
	_, err := svc.SetStatus(ctx, paused.OfferID, testutil.Wallet('A'), StatusPaused)
	require.NoError(t, err)

	offers, err := svc.ListActive(ctx, "co", ListFilter{})
	require.NoError(t, err)
	require.Len(t, offers, 3)
	assert.Equal(t, buy.OfferID, offers[0].OfferID)
	assert.Equal(t, newer.OfferID, offers[1].OfferID)
	assert.Equal(t, older.OfferID, offers[2].OfferID)

	offers, err = svc.ListActive(ctx, "CO", ListFilter{Type: TypeSell})
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	offers, err = svc.ListActive(ctx, "CO", ListFilter{MinAmount: decimal.NewNullDecimal(decimal.NewFromInt(100))})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, newer.OfferID, offers[0].OfferID)

	offers, err = svc.ListActive(ctx, "CO", ListFilter{MaxAmount: decimal.NewNullDecimal(decimal.NewFromInt(600))})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, newer.OfferID, offers[0].OfferID)

	// amounts compare as numbers, not as their stored text
	offers, err = svc.ListActive(ctx, "CO", ListFilter{MinAmount: decimal.NewNullDecimal(decimal.NewFromInt(60))})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, newer.OfferID, offers[0].OfferID)

	offers, err = svc.ListActive(ctx, "CO", ListFilter{MaxAmount: decimal.NewNullDecimal(decimal.RequireFromString("999.5"))})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, newer.OfferID, offers[0].OfferID)

	offers, err = svc.ListActive(ctx, "CO", ListFilter{PaymentMethod: PaymentCash})
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestSetStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := testutil.Wallet('A')

	offer, err := svc.Create(ctx, owner, "", sellInput())
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, "OFR_missing", owner, StatusPaused)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.SetStatus(ctx, offer.OfferID, testutil.Wallet('B'), StatusPaused)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.SetStatus(ctx, offer.OfferID, owner, StatusCompleted)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	updated, err := svc.SetStatus(ctx, offer.OfferID, owner, StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, updated.Status)

	_, err = svc.SetStatus(ctx, offer.OfferID, owner, StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	updated, err = svc.SetStatus(ctx, offer.OfferID, owner, StatusActive)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, updated.Status)

	updated, err = svc.SetStatus(ctx, offer.OfferID, owner, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)

	_, err = svc.SetStatus(ctx, offer.OfferID, owner, StatusActive)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	stored, err := svc.Get(ctx, offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
}

func TestIncrementCompletedTrades(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	offer, err := svc.Create(ctx, testutil.Wallet('A'), "", sellInput())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, IncrementCompletedTrades(db, offer.OfferID, time.Now().UTC()))
	}
	assert.ErrorIs(t, IncrementCompletedTrades(db, "OFR_missing", time.Now().UTC()), gorm.ErrRecordNotFound)

	stored, err := GetOfferTx(db, offer.OfferID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.CompletedTrades)
}

func TestUpdateOffer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := testutil.Wallet('A')

	created, err := svc.Create(ctx, owner, "", sellInput())
	require.NoError(t, err)

	edit := sellInput()
	edit.Price = decimal.RequireFromString("3899.99")
	edit.MinQuantity = decimal.RequireFromString("25.5")
	edit.MaxQuantity = decimal.NewFromInt(750)
	edit.PaymentMethod = PaymentDigitalWallet
	edit.BankName = ""
	edit.AccountNumber = ""
	edit.WalletType = "Nequi"
	edit.WalletNumber = "3001234567"
	edit.TimeLimitMinutes = 45
	edit.Description = "fast release"

	updated, err := svc.Update(ctx, created.OfferID, owner, edit)
	require.NoError(t, err)
	assert.Equal(t, created.OfferID, updated.OfferID)
	assert.Equal(t, "3899.99", updated.Price.String())
	assert.Equal(t, "25.5", updated.MinQuantity.String())
	assert.Equal(t, PaymentDigitalWallet, updated.PaymentMethod)
	assert.Equal(t, "Nequi", updated.WalletType)
	assert.Equal(t, 45, updated.TimeLimitMinutes)
	assert.Equal(t, "fast release", updated.Description)
	assert.Equal(t, "CO", updated.CountryCode)
	assert.Equal(t, StatusActive, updated.Status)
	assert.Equal(t, owner, updated.OwnerWallet)
	assert.Equal(t, 4.5, updated.Reputation)

	edit.TimeLimitMinutes = 0
	updated, err = svc.Update(ctx, created.OfferID, owner, edit)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeLimitMinutes, updated.TimeLimitMinutes)

	_, err = svc.SetStatus(ctx, created.OfferID, owner, StatusPaused)
	require.NoError(t, err)
	updated, err = svc.Update(ctx, created.OfferID, owner, sellInput())
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, updated.Status)
	assert.Equal(t, "3850", updated.Price.String())
}

func TestUpdateOfferRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := testutil.Wallet('A')

	created, err := svc.Create(ctx, owner, "", sellInput())
	require.NoError(t, err)

	_, err = svc.Update(ctx, "OFR_missing", owner, sellInput())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Update(ctx, created.OfferID, testutil.Wallet('B'), sellInput())
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	invalid := sellInput()
	invalid.MinQuantity = decimal.NewFromInt(5000)
	_, err = svc.Update(ctx, created.OfferID, owner, invalid)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	invalid = sellInput()
	invalid.Price = decimal.RequireFromString("0.001")
	_, err = svc.Update(ctx, created.OfferID, owner, invalid)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.SetStatus(ctx, created.OfferID, owner, StatusCancelled)
	require.NoError(t, err)
	edit := sellInput()
	edit.Price = decimal.NewFromInt(1)
	_, err = svc.Update(ctx, created.OfferID, owner, edit)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	stored, err := svc.Get(ctx, created.OfferID)
	require.NoError(t, err)
	assert.True(t, stored.Price.Equal(decimal.NewFromInt(3850)))
	assert.True(t, stored.MinQuantity.Equal(decimal.NewFromInt(50)))
}

func TestStatusWritesLoseToConcurrentChanges(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := testutil.Wallet('A')

	created, err := svc.Create(ctx, owner, "", sellInput())
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, created.OfferID, owner, StatusCancelled)
	require.NoError(t, err)

	// a writer that read the offer while it was still active
	swapped, err := svc.db.CompareAndSetStatus(ctx, created.OfferID, StatusActive, StatusPaused, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, swapped)

	updated, err := svc.db.UpdateTerms(ctx, created.OfferID, []string{StatusActive, StatusPaused}, map[string]interface{}{
		"description": "too late",
	})
	require.NoError(t, err)
	assert.False(t, updated)

	stored, err := GetOfferTx(db, created.OfferID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Empty(t, stored.Description)
}
