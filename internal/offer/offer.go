package offer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/ksred/p2p-usdt-api/pkg/money"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/ksred/p2p-usdt-api/pkg/tron"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReputationReader supplies the owner's reputation score at offer creation
type ReputationReader interface {
	Reputation(ctx context.Context, wallet string) (float64, error)
}

// Service holds P2P listings
type Service struct {
	db         *Database
	reputation ReputationReader
	validate   *validator.Validate
	now        func() time.Time
}

// NewService creates a new offer service. reputation may be nil.
func NewService(gormDB *gorm.DB, reputation ReputationReader) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		reputation: reputation,
		validate:   newValidator(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ListActive returns active offers for a country, newest first
func (s *Service) ListActive(ctx context.Context, country string, filter ListFilter) ([]Offer, error) {
	return s.db.ListActiveByCountry(ctx, strings.ToUpper(country), filter)
}

// ListByWallet returns the offers owned by wallet, optionally filtered by status
func (s *Service) ListByWallet(ctx context.Context, wallet, status string) ([]Offer, error) {
	return s.db.ListByWallet(ctx, wallet, status)
}

// Get returns a single offer
func (s *Service) Get(ctx context.Context, offerID string) (*Offer, error) {
	offer, err := s.db.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, apperr.NotFound("offer %s not found", offerID)
	}
	return offer, nil
}

// Create validates and stores a new active offer owned by ownerWallet
func (s *Service) Create(ctx context.Context, ownerWallet, creationIP string, input CreateOfferInput) (*Offer, error) {
	logger := log.With().
		Str("owner_wallet", ownerWallet).
		Str("service", "offer").
		Logger()

	input.CountryCode = strings.ToUpper(strings.TrimSpace(input.CountryCode))
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))

	if err := s.validateInput(ownerWallet, input); err != nil {
		logger.Debug().Err(err).Msg("offer rejected")
		return nil, err
	}

	timeLimit := input.TimeLimitMinutes
	if timeLimit == 0 {
		timeLimit = DefaultTimeLimitMinutes
	}

	var reputation float64
	if s.reputation != nil {
		score, err := s.reputation.Reputation(ctx, ownerWallet)
		if err != nil {
			return nil, fmt.Errorf("failed to read owner reputation: %w", err)
		}
		reputation = score
	}

	now := s.now()
	offer := &Offer{
		OfferID:          "OFR_" + uuid.New().String(),
		OwnerWallet:      ownerWallet,
		Type:             input.Type,
		Price:            money.New(input.Price),
		MinQuantity:      money.New(input.MinQuantity),
		MaxQuantity:      money.New(input.MaxQuantity),
		CountryCode:      input.CountryCode,
		Currency:         input.Currency,
		PaymentMethod:    input.PaymentMethod,
		BankName:         input.BankName,
		AccountNumber:    input.AccountNumber,
		AccountHolder:    input.AccountHolder,
		WalletType:       input.WalletType,
		WalletNumber:     input.WalletNumber,
		Description:      input.Description,
		Instructions:     input.Instructions,
		TimeLimitMinutes: timeLimit,
		Status:           StatusActive,
		CompletedTrades:  0,
		Reputation:       reputation,
		CreationIP:       creationIP,
		LastActivityAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.db.CreateOffer(ctx, offer); err != nil {
		logger.Error().Err(err).Msg("failed to create offer")
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	logger.Info().
		Str("offer_id", offer.OfferID).
		Str("country", offer.CountryCode).
		Str("price", offer.Price.String()).
		Msg("offer created")

	return offer, nil
}

// validateInput reports the first violated rule as a ValidationError
func (s *Service) validateInput(ownerWallet string, input CreateOfferInput) error {
	if !tron.IsAddressFormat(ownerWallet) {
		return apperr.Validation("wallet must be a 34 character TRON address starting with 'T'")
	}

	if err := s.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			if fe.Param() != "" {
				return apperr.Validation("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
			}
			return apperr.Validation("%s failed %s", fe.Field(), fe.Tag())
		}
		return apperr.Validation("invalid offer: %v", err)
	}

	switch {
	case !input.Price.IsPositive():
		return apperr.Validation("price must be greater than zero")
	case !input.MinQuantity.IsPositive():
		return apperr.Validation("min_quantity must be greater than zero")
	case !input.MaxQuantity.IsPositive():
		return apperr.Validation("max_quantity must be greater than zero")
	case !input.MinQuantity.LessThan(input.MaxQuantity):
		return apperr.Validation("min_quantity must be less than max_quantity")
	case !money.HasScale(input.Price, PriceScale):
		return apperr.Validation("price may have at most %d decimal places", PriceScale)
	case !money.HasScale(input.MinQuantity, QuantityScale), !money.HasScale(input.MaxQuantity, QuantityScale):
		return apperr.Validation("quantities may have at most %d decimal places", QuantityScale)
	}
	return nil
}

// Update replaces the terms of an offer. Only the owner may edit it, and
// cancelled or completed offers are frozen. Orders already opened keep the
// terms they copied at creation.
func (s *Service) Update(ctx context.Context, offerID, callerWallet string, input CreateOfferInput) (*Offer, error) {
	logger := log.With().
		Str("offer_id", offerID).
		Str("wallet", callerWallet).
		Str("service", "offer").
		Logger()

	input.CountryCode = strings.ToUpper(strings.TrimSpace(input.CountryCode))
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))

	if err := s.validateInput(callerWallet, input); err != nil {
		logger.Debug().Err(err).Msg("offer update rejected")
		return nil, err
	}

	current, err := s.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if current.OwnerWallet != callerWallet {
		return nil, apperr.Forbidden("only the offer owner may edit it")
	}
	if !editable(current.Status) {
		return nil, apperr.InvalidTransition("offer %s is %s and can no longer be edited", offerID, current.Status)
	}

	timeLimit := input.TimeLimitMinutes
	if timeLimit == 0 {
		timeLimit = DefaultTimeLimitMinutes
	}

	now := s.now()
	updated, err := s.db.UpdateTerms(ctx, offerID, []string{StatusActive, StatusPaused}, map[string]interface{}{
		"type":               input.Type,
		"price":              money.New(input.Price),
		"min_quantity":       money.New(input.MinQuantity),
		"max_quantity":       money.New(input.MaxQuantity),
		"country_code":       input.CountryCode,
		"currency":           input.Currency,
		"payment_method":     input.PaymentMethod,
		"bank_name":          input.BankName,
		"account_number":     input.AccountNumber,
		"account_holder":     input.AccountHolder,
		"wallet_type":        input.WalletType,
		"wallet_number":      input.WalletNumber,
		"description":        input.Description,
		"instructions":       input.Instructions,
		"time_limit_minutes": timeLimit,
		"last_activity_at":   now,
		"updated_at":         now,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to update offer")
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}
	if !updated {
		return nil, apperr.InvalidTransition("offer %s changed concurrently", offerID)
	}

	logger.Info().
		Str("price", input.Price.String()).
		Msg("offer updated")

	return s.Get(ctx, offerID)
}

func editable(status string) bool {
	return status == StatusActive || status == StatusPaused
}

var allowedStatusChanges = map[string][]string{
	StatusActive: {StatusPaused, StatusCancelled},
	StatusPaused: {StatusActive},
}

// SetStatus lets the owner pause, resume or cancel an offer
func (s *Service) SetStatus(ctx context.Context, offerID, callerWallet, newStatus string) (*Offer, error) {
	logger := log.With().
		Str("offer_id", offerID).
		Str("wallet", callerWallet).
		Str("service", "offer").
		Logger()

	offer, err := s.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if offer.OwnerWallet != callerWallet {
		return nil, apperr.Forbidden("only the offer owner may change its status")
	}

	if !statusChangeAllowed(offer.Status, newStatus) {
		return nil, apperr.InvalidTransition("offer cannot move from %s to %s", offer.Status, newStatus)
	}

	now := s.now()
	swapped, err := s.db.CompareAndSetStatus(ctx, offerID, offer.Status, newStatus, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update offer status: %w", err)
	}
	if !swapped {
		return nil, apperr.InvalidTransition("offer %s changed concurrently", offerID)
	}

	logger.Info().
		Str("from", offer.Status).
		Str("to", newStatus).
		Msg("offer status changed")

	offer.Status = newStatus
	offer.LastActivityAt = now
	offer.UpdatedAt = now
	return offer, nil
}

func statusChangeAllowed(from, to string) bool {
	for _, allowed := range allowedStatusChanges[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GinHandlers contains HTTP handlers for offer endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for offer endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListByCountryHandler handles GET /p2p/offers/country/:code
func (h *GinHandlers) ListByCountryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := ListFilter{
			Type:          c.Query("type"),
			Currency:      strings.ToUpper(c.Query("currency")),
			PaymentMethod: c.Query("payment_method"),
		}

		for param, target := range map[string]*decimal.NullDecimal{
			"min_amount": &filter.MinAmount,
			"max_amount": &filter.MaxAmount,
		} {
			raw := c.Query(param)
			if raw == "" {
				continue
			}
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				response.ValidationFailed(c, param+" must be a number")
				return
			}
			*target = decimal.NewNullDecimal(amount)
		}

		offers, err := h.service.ListActive(c.Request.Context(), c.Param("code"), filter)
		response.List(c, offers, err)
	}
}

// ListByWalletHandler handles GET /p2p/offers/wallet/:wallet
func (h *GinHandlers) ListByWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		offers, err := h.service.ListByWallet(c.Request.Context(), c.Param("wallet"), c.Query("status"))
		response.List(c, offers, err)
	}
}

// GetOfferHandler handles GET /p2p/offers/:id
func (h *GinHandlers) GetOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		offer, err := h.service.Get(c.Request.Context(), c.Param("id"))
		response.Handle(c, offer, err)
	}
}

// CreateOfferHandler handles POST /p2p/offers. Requires a wallet token.
func (h *GinHandlers) CreateOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input CreateOfferInput
		if err := c.ShouldBindJSON(&input); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		wallet, ok := auth.CallerWallet(c, input.Wallet)
		if !ok {
			return
		}

		offer, err := h.service.Create(c.Request.Context(), wallet, c.ClientIP(), input)
		response.Handle(c, offer, err)
	}
}

// UpdateOfferHandler handles PUT /p2p/offers/:id. Requires a wallet token.
func (h *GinHandlers) UpdateOfferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input CreateOfferInput
		if err := c.ShouldBindJSON(&input); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		wallet, ok := auth.CallerWallet(c, input.Wallet)
		if !ok {
			return
		}

		offer, err := h.service.Update(c.Request.Context(), c.Param("id"), wallet, input)
		response.Handle(c, offer, err)
	}
}

// SetStatusHandler handles PUT /p2p/offers/:id/status. Requires a wallet token.
func (h *GinHandlers) SetStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request SetStatusRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		wallet, ok := auth.CallerWallet(c, request.Wallet)
		if !ok {
			return
		}

		offer, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), wallet, request.Status)
		response.Handle(c, offer, err)
	}
}
