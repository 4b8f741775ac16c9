package stats

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service computes marketplace aggregates straight from the order and offer tables
type Service struct {
	db  *Database
	now func() time.Time
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Market returns the current marketplace summary
func (s *Service) Market(ctx context.Context) (*MarketStats, error) {
	logger := log.With().Str("service", "stats").Logger()
	now := s.now()
	since := now.Add(-24 * time.Hour)

	activeOffers, err := s.db.CountActiveOffers(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to compute market stats")
		return nil, err
	}

	byStatus, err := s.db.CountOrdersByStatus(ctx)
	if err != nil {
		return nil, err
	}

	volume, err := s.db.CompletedVolume(ctx)
	if err != nil {
		return nil, err
	}

	daily, err := s.db.VolumeByCurrency(ctx, since)
	if err != nil {
		return nil, err
	}
	if daily == nil {
		daily = []CurrencyVolume{}
	}

	totalUsers, activeUsers, err := s.db.CountUsers(ctx, since)
	if err != nil {
		return nil, err
	}

	return &MarketStats{
		ActiveOffers:        activeOffers,
		OrdersByStatus:      byStatus,
		CompletedVolumeUSDT: volume,
		Volume24h:           daily,
		TotalUsers:          totalUsers,
		ActiveUsers24h:      activeUsers,
		GeneratedAt:         now,
	}, nil
}

// CompletedTrades counts the completed orders a wallet took part in
func (s *Service) CompletedTrades(ctx context.Context, wallet string) (int64, error) {
	return s.db.CountCompletedTrades(ctx, wallet)
}

// GinHandlers contains HTTP handlers for stats endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for stats endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// MarketStatsHandler handles GET /p2p/stats
func (h *GinHandlers) MarketStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		market, err := h.service.Market(c.Request.Context())
		response.Handle(c, market, err)
	}
}
