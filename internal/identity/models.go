package identity

import "time"

// UserWallet is the profile attached to a wallet address. Rating is maintained
// out of band and only read by the marketplace.
type UserWallet struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	WalletAddress  string     `gorm:"uniqueIndex" json:"wallet_address"`
	Username       *string    `gorm:"uniqueIndex" json:"username,omitempty"`
	Rating         float64    `json:"rating"`
	IsActive       bool       `json:"is_active"`
	RegistrationIP string     `json:"-"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PublicProfile is what other traders see about a wallet
type PublicProfile struct {
	WalletAddress   string     `json:"wallet_address"`
	Username        string     `json:"username,omitempty"`
	Rating          float64    `json:"rating"`
	CompletedTrades int64      `json:"completed_trades"`
	MemberSince     time.Time  `json:"member_since"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
}

type UpdateProfileRequest struct {
	Wallet   string `json:"wallet"`
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
}
