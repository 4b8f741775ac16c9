package order

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/internal/chat"
	"github.com/ksred/p2p-usdt-api/internal/offer"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/ksred/p2p-usdt-api/pkg/money"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/ksred/p2p-usdt-api/pkg/tron"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const idempotencyTTL = 24 * time.Hour

// Publisher forwards committed chat messages to live listeners
type Publisher interface {
	Publish(msg chat.Message)
}

// Service is the order lifecycle engine. Every state change is a single
// transaction guarded by a compare-and-swap on the current status.
type Service struct {
	db       *Database
	chat     Publisher
	arbiters []string
	now      func() time.Time
}

// NewService creates the order engine. chat may be nil.
func NewService(gormDB *gorm.DB, chat Publisher, arbiters []string) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		chat:     chat,
		arbiters: arbiters,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) isArbiter(wallet string) bool {
	return wallet != "" && slices.Contains(s.arbiters, wallet)
}

// Create opens a pending order against an active offer. A repeated
// idempotency key from the same wallet returns the order it first created.
func (s *Service) Create(ctx context.Context, buyerWallet string, request CreateOrderRequest, idempotencyKey string) (*Order, error) {
	logger := log.With().
		Str("offer_id", request.OfferID).
		Str("buyer_wallet", buyerWallet).
		Str("service", "order").
		Logger()

	if !tron.IsAddressFormat(buyerWallet) {
		return nil, apperr.Validation("wallet must be a 34 character TRON address starting with 'T'")
	}
	if request.OfferID == "" {
		return nil, apperr.Validation("offer_id is required")
	}
	if !request.Quantity.IsPositive() {
		return nil, apperr.Validation("quantity must be greater than zero")
	}
	if !money.HasScale(request.Quantity, offer.QuantityScale) {
		return nil, apperr.Validation("quantity may have at most %d decimal places", offer.QuantityScale)
	}

	var recordKey string
	fingerprint := requestFingerprint(request)
	if idempotencyKey != "" {
		recordKey = buyerWallet + ":" + idempotencyKey
		if existing, err := s.replay(ctx, recordKey, fingerprint); existing != nil || err != nil {
			return existing, err
		}
	}

	var (
		created *Order
		message *chat.Message
	)
	err := s.db.InTransaction(ctx, func(tx *gorm.DB) error {
		source, err := offer.GetOfferTx(tx, request.OfferID)
		if err != nil {
			return err
		}
		if source == nil {
			return apperr.NotFound("offer %s not found", request.OfferID)
		}
		if source.OwnerWallet == buyerWallet {
			return apperr.Forbidden("a wallet cannot trade against its own offer")
		}
		if source.Status != offer.StatusActive {
			return apperr.InvalidTransition("offer %s is %s", source.OfferID, source.Status)
		}
		if request.Quantity.LessThan(source.MinQuantity.Decimal) || request.Quantity.GreaterThan(source.MaxQuantity.Decimal) {
			return apperr.Validation("quantity must be between %s and %s", source.MinQuantity, source.MaxQuantity)
		}

		now := s.now()
		created = &Order{
			OrderID:          "ORD_" + uuid.New().String(),
			OfferID:          source.OfferID,
			BuyerWallet:      buyerWallet,
			SellerWallet:     source.OwnerWallet,
			Quantity:         money.New(request.Quantity),
			AgreedPrice:      source.Price,
			FiatTotal:        fiatTotal(request.Quantity, source.Price.Decimal),
			Currency:         source.Currency,
			PaymentMethod:    source.PaymentMethod,
			MinQuantity:      source.MinQuantity,
			MaxQuantity:      source.MaxQuantity,
			TimeLimitMinutes: source.TimeLimitMinutes,
			PaymentDeadline:  now.Add(time.Duration(source.TimeLimitMinutes) * time.Minute),
			Status:           StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.Create(created).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		if recordKey != "" {
			record := &IdempotencyRecord{
				IdempotencyKey: recordKey,
				Wallet:         buyerWallet,
				ResourceID:     created.OrderID,
				Fingerprint:    fingerprint,
				ExpiresAt:      now.Add(idempotencyTTL),
				CreatedAt:      now,
			}
			if err := saveIdempotencyRecord(tx, record, now); err != nil {
				return fmt.Errorf("failed to store idempotency key: %w", err)
			}
		}

		message, err = chat.AppendTx(tx, created.OrderID, msgCreated(source.TimeLimitMinutes), now)
		return err
	})

	s.record(EventCreate, err)
	if err != nil {
		if recordKey != "" && apperr.KindOf(err) == "" {
			// a concurrent request with the same key may have won
			if existing, replayErr := s.replay(ctx, recordKey, fingerprint); existing != nil || replayErr != nil {
				return existing, replayErr
			}
		}
		if apperr.KindOf(err) == "" {
			logger.Error().Err(err).Msg("failed to create order")
		}
		return nil, err
	}

	s.publish(message)
	logger.Info().
		Str("order_id", created.OrderID).
		Str("quantity", created.Quantity.String()).
		Str("fiat_total", created.FiatTotal.String()).
		Time("payment_deadline", created.PaymentDeadline).
		Msg("order created")

	return created, nil
}

// fiatTotal is quantity times price. Both are scale checked before they get
// here, so the product fits money.Scale and is stored exactly.
func fiatTotal(quantity, price decimal.Decimal) money.Amount {
	return money.New(quantity.Mul(price).Round(money.Scale))
}

// requestFingerprint identifies what a create request asked for, so a reused
// idempotency key can be told apart from a retry
func requestFingerprint(request CreateOrderRequest) string {
	return request.OfferID + "|" + request.Quantity.String()
}

// replay returns the order recorded for an idempotency key, if any. A key
// reused for a different request is rejected.
func (s *Service) replay(ctx context.Context, recordKey, fingerprint string) (*Order, error) {
	record, err := s.db.GetIdempotencyRecord(ctx, recordKey, s.now())
	if err != nil || record == nil {
		return nil, err
	}
	if record.Fingerprint != fingerprint {
		return nil, apperr.Validation("Idempotency-Key was already used for a different order request")
	}
	existing, err := s.db.GetOrder(ctx, record.ResourceID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.NotFound("order %s not found", record.ResourceID)
	}
	return existing, nil
}

// Get returns an order to one of its parties or to an arbiter
func (s *Service) Get(ctx context.Context, orderID, wallet string) (*Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isParty(o, wallet) && !s.isArbiter(wallet) {
		return nil, apperr.Forbidden("wallet is not a participant of order %s", orderID)
	}
	return o, nil
}

func (s *Service) load(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return o, nil
}

// ListByWallet returns the orders a wallet buys or sells in, newest first
func (s *Service) ListByWallet(ctx context.Context, wallet, status string) ([]Order, error) {
	return s.db.ListByWallet(ctx, wallet, status)
}

// AuthorizeReader checks that wallet may read an order and its records
func (s *Service) AuthorizeReader(ctx context.Context, orderID, wallet string) error {
	_, err := s.Get(ctx, orderID, wallet)
	return err
}

// ChatParticipants tells the chat log who may use an order's conversation
func (s *Service) ChatParticipants(ctx context.Context, orderID string) (*chat.Participants, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.participants(o), nil
}

// LockChatParticipants reads the participants on the caller's transaction and
// holds the order row until it ends, so no transition can finish the order
// between the check and the chat insert.
func (s *Service) LockChatParticipants(tx *gorm.DB, orderID string) (*chat.Participants, error) {
	o, err := lockOrder(tx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return s.participants(o), nil
}

func (s *Service) participants(o *Order) *chat.Participants {
	return &chat.Participants{
		BuyerWallet:  o.BuyerWallet,
		SellerWallet: o.SellerWallet,
		Arbiters:     s.arbiters,
		Terminal:     IsTerminal(o.Status),
	}
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST /p2p/orders. An optional Idempotency-Key
// header makes retries return the original order.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request CreateOrderRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		wallet, ok := auth.CallerWallet(c, request.Wallet)
		if !ok {
			return
		}

		created, err := h.service.Create(c.Request.Context(), wallet, request, c.GetHeader("Idempotency-Key"))
		response.Handle(c, created, err)
	}
}

// GetOrderHandler handles GET /p2p/orders/:id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := h.service.Get(c.Request.Context(), c.Param("id"), auth.WalletFromContext(c))
		response.Handle(c, o, err)
	}
}

// TransitionHandler handles PUT /p2p/orders/:id/status
func (h *GinHandlers) TransitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request TransitionRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		wallet, ok := auth.CallerWallet(c, request.Wallet)
		if !ok {
			return
		}

		o, err := h.service.Transition(c.Request.Context(), c.Param("id"), WalletActor(wallet), request)
		response.Handle(c, o, err)
	}
}

// ListByWalletHandler handles GET /p2p/orders/wallet/:wallet. A wallet may
// only list its own orders.
func (h *GinHandlers) ListByWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.Param("wallet")
		if wallet != auth.WalletFromContext(c) {
			response.Forbidden(c, "Wallets may only list their own orders")
			return
		}

		orders, err := h.service.ListByWallet(c.Request.Context(), wallet, c.Query("status"))
		response.List(c, orders, err)
	}
}
