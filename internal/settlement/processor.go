package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/p2p-usdt-api/internal/config"
	"github.com/ksred/p2p-usdt-api/internal/metrics"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const batchSize = 50

// Settler releases escrowed USDT to the buyer. The settlement id is passed as
// the idempotency key, so a release repeated after a crash must not pay twice.
type Settler interface {
	Release(ctx context.Context, settlement Settlement) (reference string, err error)
}

// OrderCompleter moves a settled order to completed on behalf of the system
type OrderCompleter interface {
	CompleteSettled(ctx context.Context, orderID string) error
}

// LogSettler records releases in the log only. It stands in until an on-chain
// settler is configured.
type LogSettler struct{}

func (LogSettler) Release(ctx context.Context, settlement Settlement) (string, error) {
	log.Info().
		Str("settlement_id", settlement.SettlementID).
		Str("order_id", settlement.OrderID).
		Str("buyer_wallet", settlement.BuyerWallet).
		Str("quantity", settlement.Quantity.String()).
		Str("component", "log_settler").
		Msg("releasing USDT")
	return "offchain:" + settlement.SettlementID, nil
}

type Processor struct {
	db          *Database
	settler     Settler
	orders      OrderCompleter
	interval    time.Duration // time between passes over the outbox
	retryDelay  time.Duration
	claimLease  time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewProcessor(gormDB *gorm.DB, settler Settler, orders OrderCompleter, cfg config.SettlementConfig) *Processor {
	return &Processor{
		db:          NewDatabase(gormDB),
		settler:     settler,
		orders:      orders,
		interval:    cfg.Interval,
		retryDelay:  cfg.RetryDelay,
		claimLease:  cfg.ClaimLease,
		maxAttempts: cfg.MaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the settlement processing loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting settlement processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to process pending settlements")
			}
		}
	}
}

// RunOnce makes a single pass over the outbox: stale claims are released, due
// intents are settled and settled orders are completed.
func (p *Processor) RunOnce(ctx context.Context) error {
	logger := log.With().Str("component", "settlement_processor").Logger()
	now := p.now()

	released, err := p.db.ReleaseStaleClaims(ctx, now.Add(-p.claimLease), now)
	if err != nil {
		return err
	}
	if released > 0 {
		logger.Warn().Int64("released", released).Msg("released stale settlement claims")
	}

	due, err := p.db.ListDue(ctx, now, batchSize)
	if err != nil {
		return err
	}
	if len(due) > 0 {
		logger.Info().Int("pending_count", len(due)).Msg("processing pending settlements")
	}

	for _, settlement := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.settle(ctx, settlement)
	}

	return p.acknowledge(ctx)
}

func (p *Processor) settle(ctx context.Context, settlement Settlement) {
	logger := log.With().
		Str("settlement_id", settlement.SettlementID).
		Str("order_id", settlement.OrderID).
		Str("component", "settlement_processor").
		Logger()

	claimed, err := p.db.Claim(ctx, settlement.ID, p.now())
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim settlement")
		return
	}
	if !claimed {
		return
	}
	settlement.Attempts++

	reference, releaseErr := p.settler.Release(ctx, settlement)
	now := p.now()

	switch {
	case releaseErr == nil:
		if _, err := p.db.MarkSettled(ctx, settlement.ID, reference, now); err != nil {
			logger.Error().Err(err).Msg("failed to mark settlement settled")
			return
		}
		metrics.Settlements.WithLabelValues("settled").Inc()
		logger.Info().Str("reference", reference).Msg("settlement completed successfully")

	case settlement.Attempts >= p.maxAttempts:
		if _, err := p.db.MarkFailed(ctx, settlement.ID, releaseErr.Error(), now); err != nil {
			logger.Error().Err(err).Msg("failed to mark settlement failed")
			return
		}
		metrics.Settlements.WithLabelValues("failed").Inc()
		logger.Error().Err(releaseErr).Int("attempts", settlement.Attempts).Msg("settlement failed, no further processing")

	default:
		next := now.Add(p.retryDelay * time.Duration(settlement.Attempts))
		if _, err := p.db.MarkRetry(ctx, settlement.ID, releaseErr.Error(), next, now); err != nil {
			logger.Error().Err(err).Msg("failed to schedule settlement retry")
			return
		}
		metrics.Settlements.WithLabelValues("retry").Inc()
		logger.Warn().Err(releaseErr).Time("next_attempt_at", next).Msg("settlement attempt failed")
	}
}

// acknowledge completes the orders of settled intents. An order that is no
// longer confirmed (already completed, or resolved by an arbiter) needs nothing more.
func (p *Processor) acknowledge(ctx context.Context) error {
	settled, err := p.db.ListUnacknowledged(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, settlement := range settled {
		err := p.orders.CompleteSettled(ctx, settlement.OrderID)
		if err != nil && !errors.Is(err, apperr.ErrInvalidTransition) {
			log.Error().
				Err(err).
				Str("order_id", settlement.OrderID).
				Str("component", "settlement_processor").
				Msg("failed to complete settled order")
			continue
		}
		if err := p.db.MarkAcknowledged(ctx, settlement.ID, p.now()); err != nil {
			return err
		}
	}
	return nil
}
