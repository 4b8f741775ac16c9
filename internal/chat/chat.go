package chat

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const defaultPageSize = 100

// OrderLookup resolves the participants of an order. It returns an
// apperr NotFound error when the order does not exist. LockChatParticipants
// reads on tx and keeps the order from changing until tx ends.
type OrderLookup interface {
	ChatParticipants(ctx context.Context, orderID string) (*Participants, error)
	LockChatParticipants(tx *gorm.DB, orderID string) (*Participants, error)
}

// Service manages order conversations
type Service struct {
	db       *Database
	orders   OrderLookup
	hub      *Hub
	pageSize int
	now      func() time.Time
}

// NewService creates a chat service. hub may be nil when no live streaming is needed.
func NewService(gormDB *gorm.DB, orders OrderLookup, hub *Hub) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		orders:   orders,
		hub:      hub,
		pageSize: defaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Append adds a message to an order's conversation. User messages must come
// from the buyer or the seller while the order is still open.
func (s *Service) Append(ctx context.Context, orderID, sender, body, kind string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation("message body must not be empty")
	}
	if kind != KindSystem && kind != KindUser {
		return nil, apperr.Validation("unknown message kind %q", kind)
	}

	if kind == KindSystem {
		sender = SystemSender
	}

	var msg *Message
	// The order stays locked until the insert commits, so a user message can
	// never land after the message that closed the order.
	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		participants, err := s.orders.LockChatParticipants(tx, orderID)
		if err != nil {
			return err
		}

		if kind == KindUser {
			if !participants.IsParty(sender) {
				return apperr.Forbidden("only the buyer or seller may post to this order")
			}
			if participants.Terminal {
				return apperr.InvalidTransition("order %s is closed", orderID)
			}
		}

		msg = newMessage(orderID, sender, body, kind, s.now())
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to store chat message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("order_id", orderID).
		Str("message_id", msg.MessageID).
		Str("kind", kind).
		Str("service", "chat").
		Msg("chat message appended")

	s.Publish(*msg)
	return msg, nil
}

// Publish forwards a committed message to live subscribers
func (s *Service) Publish(msg Message) {
	if s.hub != nil {
		s.hub.Publish(msg)
	}
}

// Messages lazily walks an order's conversation oldest first, one page at a
// time. Each range over the sequence starts from the beginning and observes
// messages appended since the previous pass.
func (s *Service) Messages(ctx context.Context, orderID string) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		var afterID uint
		for {
			page, err := s.db.ListPage(ctx, orderID, afterID, s.pageSize)
			if err != nil {
				yield(Message{}, err)
				return
			}
			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
				afterID = msg.ID
			}
			if len(page) < s.pageSize {
				return
			}
		}
	}
}

// ListForOrder returns the whole conversation of an order, oldest first
func (s *Service) ListForOrder(ctx context.Context, orderID string) ([]Message, error) {
	if _, err := s.orders.ChatParticipants(ctx, orderID); err != nil {
		return nil, err
	}
	return s.collect(ctx, orderID)
}

// ListForReader is ListForOrder restricted to wallets allowed to read the order
func (s *Service) ListForReader(ctx context.Context, orderID, wallet string) ([]Message, error) {
	if err := s.authorizeReader(ctx, orderID, wallet); err != nil {
		return nil, err
	}
	return s.collect(ctx, orderID)
}

func (s *Service) collect(ctx context.Context, orderID string) ([]Message, error) {
	messages := []Message{}
	for msg, err := range s.Messages(ctx, orderID) {
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *Service) authorizeReader(ctx context.Context, orderID, wallet string) error {
	participants, err := s.orders.ChatParticipants(ctx, orderID)
	if err != nil {
		return err
	}
	if !participants.CanRead(wallet) {
		return apperr.Forbidden("wallet is not a participant of order %s", orderID)
	}
	return nil
}

// AppendTx writes a system message on the caller's transaction. The caller
// publishes the returned message once the transaction commits.
func AppendTx(tx *gorm.DB, orderID, body string, at time.Time) (*Message, error) {
	msg := newMessage(orderID, SystemSender, body, KindSystem, at)
	if err := tx.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to store system message: %w", err)
	}
	return msg, nil
}

func newMessage(orderID, sender, body, kind string, at time.Time) *Message {
	return &Message{
		MessageID: "MSG_" + uuid.New().String(),
		OrderID:   orderID,
		Sender:    sender,
		Body:      body,
		Kind:      kind,
		CreatedAt: at,
	}
}

// GinHandlers contains HTTP handlers for chat endpoints
type GinHandlers struct {
	service  *Service
	upgrader websocket.Upgrader
}

// NewGinHandlers creates a new set of HTTP handlers for chat endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ListHandler handles GET /p2p/orders/:id/chat
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		messages, err := h.service.ListForReader(c.Request.Context(), c.Param("id"), auth.WalletFromContext(c))
		response.List(c, messages, err)
	}
}

// AppendHandler handles POST /p2p/orders/:id/chat
func (h *GinHandlers) AppendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request AppendRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		wallet, ok := auth.CallerWallet(c, request.Wallet)
		if !ok {
			return
		}

		msg, err := h.service.Append(c.Request.Context(), c.Param("id"), wallet, request.Body, KindUser)
		response.Handle(c, msg, err)
	}
}
