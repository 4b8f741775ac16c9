package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ksred/p2p-usdt-api/internal/chat"
	"github.com/ksred/p2p-usdt-api/internal/metrics"
	"github.com/ksred/p2p-usdt-api/internal/offer"
	"github.com/ksred/p2p-usdt-api/internal/settlement"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// eventRequestCancel is a client asking for cancelled directly. Orders are only
// cancelled by expiry or arbitration, so it has no from-states.
const eventRequestCancel = "request_cancel"

// rule is one row of the transition table
type rule struct {
	from      []string
	to        string
	authorize func(s *Service, o *Order, actor Actor) error
	// guard checks time based preconditions once the state is known to match
	guard func(o *Order, now time.Time) error
}

var rules = map[string]rule{
	EventMarkPaid: {
		from:      []string{StatusPending},
		to:        StatusPaid,
		authorize: buyerOnly,
		guard: func(o *Order, now time.Time) error {
			if !now.Before(o.PaymentDeadline) {
				return apperr.InvalidTransition("payment window for order %s closed at %s", o.OrderID, o.PaymentDeadline.Format(time.RFC3339))
			}
			return nil
		},
	},
	EventConfirmPayment: {
		from:      []string{StatusPaid},
		to:        StatusConfirmed,
		authorize: sellerOnly,
	},
	EventComplete: {
		from:      []string{StatusConfirmed},
		to:        StatusCompleted,
		authorize: partyOrSystem,
	},
	EventOpenDispute: {
		from:      []string{StatusPending, StatusPaid},
		to:        StatusDisputed,
		authorize: partyOnly,
	},
	EventExpire: {
		from:      []string{StatusPending},
		to:        StatusCancelled,
		authorize: systemOnly,
		guard: func(o *Order, now time.Time) error {
			if now.Before(o.PaymentDeadline) {
				return apperr.InvalidTransition("order %s is still inside its payment window", o.OrderID)
			}
			return nil
		},
	},
	eventRequestCancel: {
		authorize: partyOrArbiter,
	},
}

func buyerOnly(s *Service, o *Order, actor Actor) error {
	if actor.System || actor.Wallet != o.BuyerWallet {
		return apperr.Forbidden("only the buyer may do this")
	}
	return nil
}

func sellerOnly(s *Service, o *Order, actor Actor) error {
	if actor.System || actor.Wallet != o.SellerWallet {
		return apperr.Forbidden("only the seller may do this")
	}
	return nil
}

func partyOnly(s *Service, o *Order, actor Actor) error {
	if actor.System || !isParty(o, actor.Wallet) {
		return apperr.Forbidden("only the buyer or seller may do this")
	}
	return nil
}

func partyOrSystem(s *Service, o *Order, actor Actor) error {
	if actor.System {
		return nil
	}
	return partyOnly(s, o, actor)
}

func partyOrArbiter(s *Service, o *Order, actor Actor) error {
	if !actor.System && s.isArbiter(actor.Wallet) {
		return nil
	}
	return partyOnly(s, o, actor)
}

func systemOnly(s *Service, o *Order, actor Actor) error {
	if !actor.System {
		return apperr.Forbidden("only the system may do this")
	}
	return nil
}

func arbiterOnly(s *Service, o *Order, actor Actor) error {
	if actor.System || !s.isArbiter(actor.Wallet) {
		return apperr.Forbidden("only an arbiter may resolve disputes")
	}
	return nil
}

func isParty(o *Order, wallet string) bool {
	return wallet != "" && (wallet == o.BuyerWallet || wallet == o.SellerWallet)
}

// effect is what a transition writes besides the new status. It runs after the
// compare-and-swap succeeded, on the same transaction.
type effect struct {
	updates func(now time.Time) map[string]interface{}
	message string
	after   func(tx *gorm.DB, o *Order, now time.Time) error
}

// apply runs one transition as a single transaction: load, authorize, check
// the from-state, compare-and-swap the status, then record the side effects.
func (s *Service) apply(ctx context.Context, orderID string, actor Actor, event string, r rule, fx effect) (*Order, error) {
	logger := log.With().
		Str("order_id", orderID).
		Str("event", event).
		Str("actor", actorName(actor)).
		Str("service", "order").
		Logger()

	var (
		updated *Order
		message *chat.Message
		from    string
	)

	err := s.db.InTransaction(ctx, func(tx *gorm.DB) error {
		o, err := getOrder(tx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return apperr.NotFound("order %s not found", orderID)
		}

		if err := r.authorize(s, o, actor); err != nil {
			return err
		}

		if !slices.Contains(r.from, o.Status) {
			return apperr.InvalidTransition("order %s is %s and cannot move to %s", orderID, o.Status, targetName(r))
		}

		now := s.now()
		if r.guard != nil {
			if err := r.guard(o, now); err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"status":     r.to,
			"updated_at": now,
		}
		if fx.updates != nil {
			for column, value := range fx.updates(now) {
				updates[column] = value
			}
		}

		swapped, err := compareAndSwapStatus(tx, orderID, o.Status, updates)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if !swapped {
			return apperr.InvalidTransition("order %s changed concurrently", orderID)
		}
		from = o.Status

		if fx.after != nil {
			if err := fx.after(tx, o, now); err != nil {
				return err
			}
		}

		message, err = chat.AppendTx(tx, orderID, fx.message, now)
		if err != nil {
			return err
		}

		updated, err = getOrder(tx, orderID)
		return err
	})

	s.record(event, err)
	if err != nil {
		if apperr.KindOf(err) == "" {
			logger.Error().Err(err).Msg("order transition failed")
		} else {
			logger.Debug().Err(err).Msg("order transition rejected")
		}
		return nil, err
	}

	s.publish(message)
	logger.Info().
		Str("from", from).
		Str("to", updated.Status).
		Msg("order transitioned")

	return updated, nil
}

func targetName(r rule) string {
	if r.to == "" {
		return StatusCancelled
	}
	return r.to
}

func actorName(actor Actor) string {
	if actor.System {
		return chat.SystemSender
	}
	return actor.Wallet
}

func (s *Service) record(event string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(apperr.KindOf(err)))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.OrderTransitions.WithLabelValues(event, outcome).Inc()
}

func (s *Service) publish(msg *chat.Message) {
	if msg != nil && s.chat != nil {
		s.chat.Publish(*msg)
	}
}

// MarkPaid records that the buyer sent the fiat payment
func (s *Service) MarkPaid(ctx context.Context, orderID string, actor Actor, proof, notes string) (*Order, error) {
	return s.apply(ctx, orderID, actor, EventMarkPaid, rules[EventMarkPaid], effect{
		updates: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{
				"payment_proof": proof,
				"buyer_notes":   notes,
				"paid_at":       now,
			}
		},
		message: msgPaid,
	})
}

// ConfirmPayment records that the seller received the fiat payment and queues
// the USDT release.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, actor Actor, notes string) (*Order, error) {
	return s.apply(ctx, orderID, actor, EventConfirmPayment, rules[EventConfirmPayment], effect{
		updates: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{
				"seller_notes": notes,
				"confirmed_at": now,
			}
		},
		message: msgConfirmed,
		after:   queueRelease,
	})
}

// Complete closes a confirmed order and counts the trade on its offer
func (s *Service) Complete(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	return s.apply(ctx, orderID, actor, EventComplete, rules[EventComplete], effect{
		updates: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{"completed_at": now}
		},
		message: msgCompleted,
		after:   countTrade,
	})
}

// OpenDispute freezes a pending or paid order until an arbiter resolves it
func (s *Service) OpenDispute(ctx context.Context, orderID string, actor Actor, reason string) (*Order, error) {
	return s.apply(ctx, orderID, actor, EventOpenDispute, rules[EventOpenDispute], effect{
		updates: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{
				"dispute_reason": reason,
				"disputed_by":    actor.Wallet,
				"disputed_at":    now,
			}
		},
		message: msgDisputed(actor.Wallet, reason),
	})
}

// Expire cancels a pending order whose payment window has closed. Only the
// expiry sweep calls it.
func (s *Service) Expire(ctx context.Context, orderID string) (*Order, error) {
	return s.apply(ctx, orderID, SystemActor, EventExpire, rules[EventExpire], effect{
		updates: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{"cancelled_at": now}
		},
		message: msgExpired,
	})
}

// ResolveDispute lets an arbiter close a disputed order as completed, which
// releases the USDT to the buyer, or as cancelled.
func (s *Service) ResolveDispute(ctx context.Context, orderID string, actor Actor, outcome, notes string) (*Order, error) {
	r := rule{
		from:      []string{StatusDisputed},
		to:        outcome,
		authorize: arbiterOnly,
	}

	var fx effect
	switch outcome {
	case StatusCompleted:
		fx = effect{
			updates: func(now time.Time) map[string]interface{} {
				return map[string]interface{}{"resolved_by": actor.Wallet, "completed_at": now}
			},
			message: msgResolvedCompleted,
			after: func(tx *gorm.DB, o *Order, now time.Time) error {
				if err := queueRelease(tx, o, now); err != nil {
					return err
				}
				return countTrade(tx, o, now)
			},
		}
	case StatusCancelled:
		fx = effect{
			updates: func(now time.Time) map[string]interface{} {
				return map[string]interface{}{"resolved_by": actor.Wallet, "cancelled_at": now}
			},
			message: msgResolvedCancelled,
		}
	default:
		return nil, apperr.Validation("a dispute resolves to completed or cancelled, not %q", outcome)
	}
	if notes != "" {
		fx.message += " Notes: " + notes
	}

	return s.apply(ctx, orderID, actor, EventResolveDispute, r, fx)
}

// CompleteSettled completes an order once its USDT release has settled
func (s *Service) CompleteSettled(ctx context.Context, orderID string) error {
	_, err := s.Complete(ctx, orderID, SystemActor)
	return err
}

// Transition dispatches the generic status endpoint to the matching event
func (s *Service) Transition(ctx context.Context, orderID string, actor Actor, request TransitionRequest) (*Order, error) {
	switch request.Status {
	case StatusPaid:
		return s.MarkPaid(ctx, orderID, actor, request.PaymentProof, request.Notes)
	case StatusConfirmed:
		return s.ConfirmPayment(ctx, orderID, actor, request.Notes)
	case StatusDisputed:
		return s.OpenDispute(ctx, orderID, actor, request.Reason)
	case StatusCompleted:
		if s.isArbiter(actor.Wallet) {
			return s.ResolveDispute(ctx, orderID, actor, StatusCompleted, request.Notes)
		}
		return s.Complete(ctx, orderID, actor)
	case StatusCancelled:
		if s.isArbiter(actor.Wallet) {
			return s.ResolveDispute(ctx, orderID, actor, StatusCancelled, request.Notes)
		}
		return s.apply(ctx, orderID, actor, eventRequestCancel, rules[eventRequestCancel], effect{})
	case StatusPending:
		return nil, apperr.InvalidTransition("orders cannot return to pending")
	default:
		return nil, apperr.Validation("unknown order status %q", request.Status)
	}
}

// ExpireDue sweeps pending orders past their deadline. Orders that moved on
// in the meantime are skipped.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.db.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if _, err := s.Expire(ctx, o.OrderID); err != nil {
			if errors.Is(err, apperr.ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
		metrics.ExpiredOrders.Inc()
	}
	return expired, nil
}

func queueRelease(tx *gorm.DB, o *Order, now time.Time) error {
	_, err := settlement.CreateIntentTx(tx, settlement.Intent{
		OrderID:      o.OrderID,
		OfferID:      o.OfferID,
		SellerWallet: o.SellerWallet,
		BuyerWallet:  o.BuyerWallet,
		Quantity:     o.Quantity,
	}, now)
	if err != nil {
		return fmt.Errorf("failed to queue settlement: %w", err)
	}
	return nil
}

func countTrade(tx *gorm.DB, o *Order, now time.Time) error {
	if err := offer.IncrementCompletedTrades(tx, o.OfferID, now); err != nil {
		return fmt.Errorf("failed to count trade on offer %s: %w", o.OfferID, err)
	}
	return nil
}
