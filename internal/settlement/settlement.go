package settlement

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"gorm.io/gorm"
)

// OrderAuthorizer checks that a wallet may see an order
type OrderAuthorizer interface {
	AuthorizeReader(ctx context.Context, orderID, wallet string) error
}

type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetByOrder returns the settlement intent of an order
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*Settlement, error) {
	settlement, err := s.db.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, apperr.NotFound("no settlement for order %s", orderID)
	}
	return settlement, nil
}

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
	orders  OrderAuthorizer
}

// NewGinHandlers creates a new set of HTTP handlers for settlement endpoints
func NewGinHandlers(service *Service, orders OrderAuthorizer) *GinHandlers {
	return &GinHandlers{
		service: service,
		orders:  orders,
	}
}

// GetSettlementHandler handles GET /p2p/orders/:id/settlement
func (h *GinHandlers) GetSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("id")
		if err := h.orders.AuthorizeReader(c.Request.Context(), orderID, auth.WalletFromContext(c)); err != nil {
			response.Handle(c, nil, err)
			return
		}

		settlement, err := h.service.GetByOrder(c.Request.Context(), orderID)
		response.Handle(c, settlement, err)
	}
}
