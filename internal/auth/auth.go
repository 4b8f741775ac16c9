package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ksred/p2p-usdt-api/internal/config"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/ksred/p2p-usdt-api/pkg/tron"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid wallet signature")
	ErrNoChallenge        = errors.New("no pending challenge for wallet")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid token")
)

// ContextWalletKey is the gin context key holding the authenticated wallet
const ContextWalletKey = "wallet"

// LoginRecorder is notified after a wallet signs in
type LoginRecorder interface {
	RecordLogin(ctx context.Context, wallet string, at time.Time) error
}

// Service handles wallet authentication. A wallet proves control of its
// address by signing a one-time challenge and receives a short-lived JWT.
type Service struct {
	db           *gorm.DB
	jwtSecret    []byte
	tokenTTL     time.Duration
	challengeTTL time.Duration
	logins       LoginRecorder
	now          func() time.Time
}

// NewService creates a new authentication service. logins may be nil.
func NewService(gormDB *gorm.DB, cfg config.AuthConfig, logins LoginRecorder) *Service {
	return &Service{
		db:           gormDB,
		jwtSecret:    []byte(cfg.JWTSecret),
		tokenTTL:     cfg.TokenTTL,
		challengeTTL: cfg.ChallengeTTL,
		logins:       logins,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// IssueChallenge creates a fresh message for wallet to sign
func (s *Service) IssueChallenge(ctx context.Context, wallet string) (*ChallengeResponse, error) {
	if _, err := tron.DecodeAddress(wallet); err != nil {
		return nil, err
	}

	now := s.now()
	nonce := uuid.New().String()
	challenge := &Challenge{
		ChallengeID: "CHL_" + nonce,
		Wallet:      wallet,
		Message:     fmt.Sprintf("Sign in to P2P USDT as %s. Nonce: %s", wallet, nonce),
		ExpiresAt:   now.Add(s.challengeTTL),
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(challenge).Error; err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return &ChallengeResponse{
		Wallet:    wallet,
		Message:   challenge.Message,
		ExpiresAt: challenge.ExpiresAt,
	}, nil
}

// GenerateToken verifies the signature over the wallet's latest challenge,
// consumes the challenge and issues a JWT.
func (s *Service) GenerateToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	logger := log.With().
		Str("wallet", req.Wallet).
		Str("service", "auth").
		Logger()

	now := s.now()
	var challenge Challenge
	err := s.db.WithContext(ctx).
		Where("wallet = ? AND used_at IS NULL AND expires_at > ?", req.Wallet, now).
		Order("id DESC").
		First(&challenge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoChallenge
		}
		return nil, err
	}

	if err := tron.VerifyMessage(challenge.Message, req.Signature, req.Wallet); err != nil {
		logger.Warn().Err(err).Msg("signature verification failed")
		return nil, ErrInvalidCredentials
	}

	// a challenge can be redeemed once, even under concurrent submissions
	result := s.db.WithContext(ctx).Model(&Challenge{}).
		Where("id = ? AND used_at IS NULL", challenge.ID).
		Update("used_at", now)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNoChallenge
	}

	if s.logins != nil {
		if err := s.logins.RecordLogin(ctx, req.Wallet, now); err != nil {
			logger.Error().Err(err).Msg("failed to record login")
		}
	}

	logger.Info().Msg("wallet authenticated")
	return s.IssueToken(req.Wallet)
}

// IssueToken signs a JWT for an already verified wallet
func (s *Service) IssueToken(wallet string) (*TokenResponse, error) {
	now := s.now()
	expiration := now.Add(s.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		Wallet: wallet,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Wallet:     wallet,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Wallet == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ChallengeHandler handles POST /auth/challenge
func (h *GinHandlers) ChallengeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChallengeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		challenge, err := h.service.IssueChallenge(c.Request.Context(), req.Wallet)
		if errors.Is(err, tron.ErrInvalidAddress) {
			response.ValidationFailed(c, err.Error())
			return
		}
		response.Handle(c, challenge, err)
	}
}

// GenerateTokenHandler handles POST /auth/token
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(c.Request.Context(), req)
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrNoChallenge) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// WalletFromContext returns the authenticated wallet, or "" when the request
// did not pass through the JWT middleware.
func WalletFromContext(c *gin.Context) string {
	return c.GetString(ContextWalletKey)
}

// CallerWallet resolves the acting wallet for a mutating request. A wallet in
// the request body is accepted only when it matches the token. On failure the
// response is written and ok is false.
func CallerWallet(c *gin.Context, bodyWallet string) (wallet string, ok bool) {
	wallet = WalletFromContext(c)
	if wallet == "" {
		response.Unauthorized(c, "Missing wallet authentication")
		return "", false
	}
	if bodyWallet != "" && bodyWallet != wallet {
		response.Forbidden(c, "Request wallet does not match the authenticated wallet")
		return "", false
	}
	return wallet, true
}
