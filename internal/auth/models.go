package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Challenge is a one-time message a wallet signs to obtain a token
type Challenge struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	ChallengeID string     `gorm:"uniqueIndex" json:"challenge_id"`
	Wallet      string     `gorm:"index" json:"wallet"`
	Message     string     `json:"message"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (Challenge) TableName() string {
	return "auth_challenges"
}

// ChallengeRequest asks for a new sign-in challenge
type ChallengeRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

// ChallengeResponse is returned to the wallet for signing
type ChallengeResponse struct {
	Wallet    string    `json:"wallet"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenRequest carries the signed challenge
type TokenRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Wallet     string    `json:"wallet"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	Wallet string `json:"wallet"`
}
