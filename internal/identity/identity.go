package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/ksred/p2p-usdt-api/pkg/tron"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrUsernameTaken is returned when another wallet already uses a username.
// It wraps gorm.ErrDuplicatedKey so handlers answer with a conflict.
var ErrUsernameTaken = fmt.Errorf("username already taken: %w", gorm.ErrDuplicatedKey)

// TradeCounter counts a wallet's completed trades
type TradeCounter interface {
	CompletedTrades(ctx context.Context, wallet string) (int64, error)
}

// Service keeps wallet profiles and the reputation read by the marketplace
type Service struct {
	db       *Database
	trades   TradeCounter
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates the identity service. trades may be nil, in which case
// profiles report zero completed trades.
func NewService(gormDB *gorm.DB, trades TradeCounter) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		trades:   trades,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordLogin registers the wallet on first sign-in and stamps every later one
func (s *Service) RecordLogin(ctx context.Context, wallet string, at time.Time) error {
	if err := s.db.UpsertLogin(ctx, wallet, at.UTC()); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// Reputation returns the wallet's rating, zero for unknown wallets
func (s *Service) Reputation(ctx context.Context, wallet string) (float64, error) {
	user, err := s.db.GetWallet(ctx, wallet)
	if err != nil || user == nil {
		return 0, err
	}
	return user.Rating, nil
}

// Profile returns the public view of a wallet
func (s *Service) Profile(ctx context.Context, wallet string) (*PublicProfile, error) {
	user, err := s.db.GetWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("wallet %s has no profile", wallet)
	}

	profile := &PublicProfile{
		WalletAddress: user.WalletAddress,
		Rating:        user.Rating,
		MemberSince:   user.CreatedAt,
		LastLoginAt:   user.LastLoginAt,
	}
	if user.Username != nil {
		profile.Username = *user.Username
	}
	if s.trades != nil {
		if profile.CompletedTrades, err = s.trades.CompletedTrades(ctx, wallet); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

// UpdateProfile sets the wallet's username
func (s *Service) UpdateProfile(ctx context.Context, wallet string, request UpdateProfileRequest) (*PublicProfile, error) {
	logger := log.With().
		Str("wallet", wallet).
		Str("service", "identity").
		Logger()

	if !tron.IsAddressFormat(wallet) {
		return nil, apperr.Validation("wallet must be a 34 character TRON address starting with 'T'")
	}
	request.Username = strings.TrimSpace(request.Username)
	if err := s.validate.Struct(request); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return nil, apperr.Validation("username failed %s", fieldErrs[0].Tag())
		}
		return nil, apperr.Validation("invalid profile: %v", err)
	}

	user, err := s.db.GetWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("wallet %s has no profile", wallet)
	}

	taken, err := s.db.UsernameTaken(ctx, request.Username, wallet)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	if err := s.db.SetUsername(ctx, wallet, request.Username, s.now()); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		logger.Error().Err(err).Msg("failed to update profile")
		return nil, err
	}

	logger.Info().Str("username", request.Username).Msg("profile updated")
	return s.Profile(ctx, wallet)
}

// GinHandlers contains HTTP handlers for profile endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for profile endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetProfileHandler handles GET /p2p/users/:wallet
func (h *GinHandlers) GetProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := h.service.Profile(c.Request.Context(), c.Param("wallet"))
		response.Handle(c, profile, err)
	}
}

// UpdateProfileHandler handles PUT /p2p/profile
func (h *GinHandlers) UpdateProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request UpdateProfileRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		wallet, ok := auth.CallerWallet(c, request.Wallet)
		if !ok {
			return
		}

		profile, err := h.service.UpdateProfile(c.Request.Context(), wallet, request)
		response.Handle(c, profile, err)
	}
}
