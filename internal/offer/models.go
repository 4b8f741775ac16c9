package offer

import (
	"time"

	"github.com/ksred/p2p-usdt-api/pkg/money"
	"github.com/shopspring/decimal"
)

// Trade directions
const (
	TypeBuy  = "buy"
	TypeSell = "sell"
)

// Offer statuses
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Payment methods
const (
	PaymentBankTransfer  = "bank-transfer"
	PaymentDigitalWallet = "digital-wallet"
	PaymentCash          = "cash"
	PaymentCreditCard    = "credit-card"
	PaymentDebitCard     = "debit-card"
)

const (
	DefaultTimeLimitMinutes = 15
	MinTimeLimitMinutes     = 5
	MaxTimeLimitMinutes     = 60
)

// Fractional digits accepted on input. USDT on TRON has six decimals and fiat
// prices are quoted in cents, so a fiat total never needs more than
// money.Scale digits.
const (
	PriceScale    = 2
	QuantityScale = 6
)

type Offer struct {
	ID               uint         `gorm:"primaryKey" json:"-"`
	OfferID          string       `gorm:"uniqueIndex" json:"offer_id"`
	OwnerWallet      string       `gorm:"index" json:"owner_wallet"`
	Type             string       `json:"type"` // buy or sell
	Price            money.Amount `json:"price"`
	MinQuantity      money.Amount `json:"min_quantity"`
	MaxQuantity      money.Amount `json:"max_quantity"`
	CountryCode      string       `gorm:"index" json:"country_code"`
	Currency         string       `json:"currency"`
	PaymentMethod    string       `json:"payment_method"`
	BankName         string       `json:"bank_name,omitempty"`
	AccountNumber    string       `json:"account_number,omitempty"`
	AccountHolder    string       `json:"account_holder,omitempty"`
	WalletType       string       `json:"wallet_type,omitempty"`
	WalletNumber     string       `json:"wallet_number,omitempty"`
	Description      string       `json:"description,omitempty"`
	Instructions     string       `json:"instructions,omitempty"`
	TimeLimitMinutes int          `json:"time_limit_minutes"`
	Status           string       `gorm:"index" json:"status"` // active, paused, completed, cancelled
	CompletedTrades  int64        `json:"completed_trades"`
	Reputation       float64      `json:"reputation"`
	CreationIP       string       `json:"-"`
	LastActivityAt   time.Time    `json:"last_activity_at"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// CreateOfferInput is the caller-supplied part of an offer. Update takes the
// same fields and replaces all of them.
type CreateOfferInput struct {
	Wallet           string          `json:"wallet"`
	Type             string          `json:"type" validate:"required,oneof=buy sell"`
	CountryCode      string          `json:"country_code" validate:"required,len=2,alpha"`
	Currency         string          `json:"currency" validate:"required,len=3,alpha"`
	PaymentMethod    string          `json:"payment_method" validate:"required,oneof=bank-transfer digital-wallet cash credit-card debit-card"`
	BankName         string          `json:"bank_name" validate:"required_if=PaymentMethod bank-transfer,max=100"`
	AccountNumber    string          `json:"account_number" validate:"required_if=PaymentMethod bank-transfer,max=64"`
	AccountHolder    string          `json:"account_holder" validate:"max=100"`
	WalletType       string          `json:"wallet_type" validate:"required_if=PaymentMethod digital-wallet,max=50"`
	WalletNumber     string          `json:"wallet_number" validate:"required_if=PaymentMethod digital-wallet,max=64"`
	Description      string          `json:"description" validate:"max=1000"`
	Instructions     string          `json:"instructions" validate:"max=1000"`
	TimeLimitMinutes int             `json:"time_limit_minutes" validate:"omitempty,min=5,max=60"`
	Price            decimal.Decimal `json:"price"`
	MinQuantity      decimal.Decimal `json:"min_quantity"`
	MaxQuantity      decimal.Decimal `json:"max_quantity"`
}

// ListFilter narrows an active-offer listing. Zero values are ignored.
type ListFilter struct {
	Type          string
	Currency      string
	PaymentMethod string
	MinAmount     decimal.NullDecimal
	MaxAmount     decimal.NullDecimal
}

type SetStatusRequest struct {
	Wallet string `json:"wallet"`
	Status string `json:"status" binding:"required"`
}
