package chat

import (
	"slices"
	"time"
)

// SystemSender is the sender recorded on engine-generated messages
const SystemSender = "SYSTEM"

// Message kinds
const (
	KindSystem = "system"
	KindUser   = "user"
)

// Message is an append-only chat entry attached to an order. It doubles as the
// audit trail of the order's state transitions.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID string    `gorm:"uniqueIndex" json:"message_id"`
	OrderID   string    `gorm:"index" json:"order_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"` // system or user
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// Participants describes who may read and write an order's chat
type Participants struct {
	BuyerWallet  string
	SellerWallet string
	Arbiters     []string
	Terminal     bool
}

// IsParty reports whether wallet is the buyer or the seller
func (p *Participants) IsParty(wallet string) bool {
	return wallet != "" && (wallet == p.BuyerWallet || wallet == p.SellerWallet)
}

// CanRead reports whether wallet may read the conversation
func (p *Participants) CanRead(wallet string) bool {
	return p.IsParty(wallet) || slices.Contains(p.Arbiters, wallet)
}

type AppendRequest struct {
	Wallet string `json:"wallet"`
	Body   string `json:"body" binding:"required"`
}
