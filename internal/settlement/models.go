package settlement

import (
	"time"

	"github.com/ksred/p2p-usdt-api/pkg/money"
)

// Settlement statuses
const (
	StatusPending  = "PENDING"
	StatusSettling = "SETTLING"
	StatusSettled  = "SETTLED"
	StatusFailed   = "FAILED"
)

// Settlement is the release intent for the USDT of one order. It is written in
// the same transaction that confirms the order and drained by the Processor.
type Settlement struct {
	ID               uint         `gorm:"primaryKey" json:"-"`
	SettlementID     string       `gorm:"uniqueIndex" json:"settlement_id"`
	OrderID          string       `gorm:"uniqueIndex" json:"order_id"`
	OfferID          string       `json:"offer_id"`
	SellerWallet     string       `json:"seller_wallet"`
	BuyerWallet      string       `json:"buyer_wallet"`
	Quantity         money.Amount `json:"quantity"`
	SettlementStatus string       `gorm:"index" json:"settlement_status"` // PENDING, SETTLING, SETTLED, FAILED
	Attempts         int          `json:"attempts"`
	NextAttemptAt    time.Time    `gorm:"index" json:"next_attempt_at"`
	ClaimedAt        *time.Time   `json:"-"`
	Reference        string       `json:"reference,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
	SettledAt        *time.Time   `json:"settled_at,omitempty"`
	AcknowledgedAt   *time.Time   `json:"-"` // order completion recorded
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Intent carries the order facts a release needs
type Intent struct {
	OrderID      string
	OfferID      string
	SellerWallet string
	BuyerWallet  string
	Quantity     money.Amount
}
