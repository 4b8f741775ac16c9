package order

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const expiryBatchSize = 100

// ExpiryProcessor periodically cancels pending orders whose payment window
// has closed.
type ExpiryProcessor struct {
	service  *Service
	interval time.Duration
}

func NewExpiryProcessor(service *Service, interval time.Duration) *ExpiryProcessor {
	return &ExpiryProcessor{
		service:  service,
		interval: interval,
	}
}

// Start runs the sweep until ctx is cancelled
func (p *ExpiryProcessor) Start(ctx context.Context) {
	logger := log.With().Str("component", "expiry_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting order expiry processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order expiry processor")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep drains every expired order, one batch at a time
func (p *ExpiryProcessor) sweep(ctx context.Context) {
	logger := log.With().Str("component", "expiry_processor").Logger()

	total := 0
	for {
		expired, err := p.service.ExpireDue(ctx, expiryBatchSize)
		total += expired
		if err != nil {
			logger.Error().Err(err).Msg("failed to expire orders")
			return
		}
		if expired < expiryBatchSize {
			break
		}
	}

	if total > 0 {
		logger.Info().Int("expired", total).Msg("expired pending orders")
	}
}
