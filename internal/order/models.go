package order

import (
	"time"

	"github.com/ksred/p2p-usdt-api/pkg/money"
	"github.com/shopspring/decimal"
)

// Order states
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusDisputed  = "disputed"
	StatusCancelled = "cancelled"
)

// Events that drive an order between states
const (
	EventCreate         = "create"
	EventMarkPaid       = "mark_paid"
	EventConfirmPayment = "confirm_payment"
	EventComplete       = "complete"
	EventOpenDispute    = "open_dispute"
	EventExpire         = "expire"
	EventResolveDispute = "resolve_dispute"
)

// IsTerminal reports whether no further transition may leave status
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Order is a trade of USDT against one offer. Price, currency, payment method
// and quantity bounds are copied from the offer at creation and never re-read.
type Order struct {
	ID               uint         `gorm:"primaryKey" json:"-"`
	OrderID          string       `gorm:"uniqueIndex" json:"order_id"`
	OfferID          string       `gorm:"index" json:"offer_id"`
	BuyerWallet      string       `gorm:"index" json:"buyer_wallet"`
	SellerWallet     string       `gorm:"index" json:"seller_wallet"`
	Quantity         money.Amount `json:"quantity"`
	AgreedPrice      money.Amount `json:"agreed_price"`
	FiatTotal        money.Amount `json:"fiat_total"`
	Currency         string       `json:"currency"`
	PaymentMethod    string       `json:"payment_method"`
	MinQuantity      money.Amount `json:"min_quantity"`
	MaxQuantity      money.Amount `json:"max_quantity"`
	TimeLimitMinutes int          `json:"time_limit_minutes"`
	PaymentDeadline  time.Time    `gorm:"index" json:"payment_deadline"`
	Status           string       `gorm:"index" json:"status"`
	PaymentProof     string       `json:"comprobante_pago,omitempty"`
	BuyerNotes       string       `json:"buyer_notes,omitempty"`
	SellerNotes      string       `json:"seller_notes,omitempty"`
	DisputeReason    string       `json:"dispute_reason,omitempty"`
	DisputedBy       string       `json:"disputed_by,omitempty"`
	ResolvedBy       string       `json:"resolved_by,omitempty"`
	PaidAt           *time.Time   `json:"paid_at,omitempty"`
	ConfirmedAt      *time.Time   `json:"confirmed_at,omitempty"`
	DisputedAt       *time.Time   `json:"disputed_at,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	CancelledAt      *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// IdempotencyRecord maps a client supplied Idempotency-Key to the order it
// created. Fingerprint holds the offer and quantity that were asked for.
type IdempotencyRecord struct {
	ID             uint      `gorm:"primaryKey"`
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	Wallet         string    `json:"wallet"`
	ResourceID     string    `json:"resource_id"`
	Fingerprint    string    `json:"fingerprint"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type CreateOrderRequest struct {
	OfferID  string          `json:"offer_id" binding:"required"`
	Wallet   string          `json:"wallet"`
	Quantity decimal.Decimal `json:"quantity"`
}

// TransitionRequest is the body of PUT /p2p/orders/:id/status. The extra
// fields apply to the target status: comprobante_pago and notas for paid,
// notas for confirmed and razon for disputed. Arbiters settle a dispute by
// asking for completed or cancelled.
type TransitionRequest struct {
	Status       string `json:"status" binding:"required"`
	Wallet       string `json:"wallet"`
	PaymentProof string `json:"comprobante_pago"`
	Notes        string `json:"notas"`
	Reason       string `json:"razon"`
}

// Actor is who asks for a transition. System actors bypass wallet checks.
type Actor struct {
	Wallet string
	System bool
}

// WalletActor returns the actor for a signed-in wallet
func WalletActor(wallet string) Actor {
	return Actor{Wallet: wallet}
}

// SystemActor is used by the expiry sweep and the settlement processor
var SystemActor = Actor{System: true}
