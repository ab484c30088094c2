package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/idempotency"
)

// ErrSettlementInFlight means another worker holds the order's settlement
// claim. It is transient; the event is redelivered.
var ErrSettlementInFlight = errors.New("settlement already in flight")

const reasonFailed = "Payment Failed"

type Service struct {
	log      *slog.Logger
	repo     PaymentRepository
	guard    idempotency.Guard
	charger  Charger
	policy   domain.RetryPolicy
	sleep    domain.Sleeper
	claimTTL time.Duration
	now      func() time.Time
}

type Option func(*Service)

func WithSleeper(s domain.Sleeper) Option {
	return func(svc *Service) { svc.sleep = s }
}

func WithClaimTTL(d time.Duration) Option {
	return func(svc *Service) { svc.claimTTL = d }
}

func NewService(log *slog.Logger, repo PaymentRepository, guard idempotency.Guard, charger Charger, policy domain.RetryPolicy, opts ...Option) *Service {
	s := &Service{
		log:      log,
		repo:     repo,
		guard:    guard,
		charger:  charger,
		policy:   policy,
		sleep:    domain.Sleep,
		claimTTL: 2 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle charges the order at most once. A redelivered reservation for a
// settled order re-emits payment-processed without charging; one for an
// order whose retries were exhausted is ignored.
func (s *Service) Settle(ctx context.Context, orderID string, amount decimal.Decimal) (domain.Outcome, error) {
	key := idempotency.Key("settle", orderID)
	token := uuid.NewString()
	ok, err := s.guard.Claim(ctx, key, token, s.claimTTL)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("order %s: %w", orderID, ErrSettlementInFlight)
	}
	defer func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.WarnContext(ctx, "release settlement claim", "order_id", orderID, "err", err)
		}
	}()

	prior, err := s.repo.Find(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("find settlement %s: %w", orderID, err)
	}
	switch {
	case prior.Payment != nil:
		return s.replay(ctx, *prior.Payment)
	case prior.Failure != nil:
		s.log.InfoContext(ctx, "settlement already failed", "order_id", orderID)
		return domain.OutcomeFailed, nil
	}

	attempts, err := s.policy.Run(ctx, s.sleep, func(ctx context.Context, n int) error {
		err := s.charger.Charge(ctx, orderID, amount)
		if errors.Is(err, domain.ErrDeclined) {
			s.log.WarnContext(ctx, "charge declined", "order_id", orderID, "attempt", n)
		}
		return err
	})
	switch {
	case err == nil:
		return s.processed(ctx, domain.Payment{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			Amount:    amount,
			Attempts:  attempts,
			CreatedAt: s.now().UTC(),
		})
	case errors.Is(err, domain.ErrDeclined):
		return s.failed(ctx, domain.Failure{
			OrderID:   orderID,
			Reason:    fmt.Sprintf("%s after %d attempts", reasonFailed, attempts),
			Attempts:  attempts,
			CreatedAt: s.now().UTC(),
		})
	default:
		return "", fmt.Errorf("charge order %s: %w", orderID, err)
	}
}

func (s *Service) processed(ctx context.Context, p domain.Payment) (domain.Outcome, error) {
	stored, inserted, err := s.repo.SaveProcessed(ctx, p, func(stored domain.Payment) ([]events.Envelope, error) {
		env, err := s.processedEvent(stored)
		return []events.Envelope{env}, err
	})
	if err != nil {
		return "", fmt.Errorf("save payment %s: %w", p.OrderID, err)
	}
	if !inserted {
		s.log.WarnContext(ctx, "payment record already present", "order_id", p.OrderID, "payment_id", stored.ID)
	}
	s.log.InfoContext(ctx, "payment processed", "order_id", p.OrderID, "payment_id", stored.ID, "attempts", stored.Attempts)
	return domain.OutcomeProcessed, nil
}

func (s *Service) failed(ctx context.Context, f domain.Failure) (domain.Outcome, error) {
	inserted, err := s.repo.SaveFailed(ctx, f, func(f domain.Failure) ([]events.Envelope, error) {
		env, err := events.New(events.PaymentFailed, f.OrderID, events.PaymentFailedPayload{
			OrderID:  f.OrderID,
			Reason:   f.Reason,
			Attempts: f.Attempts,
		}, s.now())
		return []events.Envelope{env}, err
	})
	if errors.Is(err, domain.ErrAlreadySettled) {
		prior, ferr := s.repo.Find(ctx, f.OrderID)
		if ferr != nil || prior.Payment == nil {
			return "", fmt.Errorf("reload payment %s: %w", f.OrderID, errors.Join(err, ferr))
		}
		return s.replay(ctx, *prior.Payment)
	}
	if err != nil {
		return "", fmt.Errorf("save failure %s: %w", f.OrderID, err)
	}
	if inserted {
		s.log.WarnContext(ctx, "payment failed", "order_id", f.OrderID, "attempts", f.Attempts)
	}
	return domain.OutcomeFailed, nil
}

func (s *Service) replay(ctx context.Context, p domain.Payment) (domain.Outcome, error) {
	env, err := s.processedEvent(p)
	if err != nil {
		return "", err
	}
	if err := s.repo.Emit(ctx, env); err != nil {
		return "", fmt.Errorf("re-emit payment %s: %w", p.OrderID, err)
	}
	s.log.InfoContext(ctx, "payment already settled, re-emitted", "order_id", p.OrderID, "payment_id", p.ID)
	return domain.OutcomeProcessed, nil
}

func (s *Service) processedEvent(p domain.Payment) (events.Envelope, error) {
	return events.New(events.PaymentProcessed, p.OrderID, events.PaymentProcessedPayload{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Amount:    p.Amount,
	}, s.now())
}

func (s *Service) Routes() []events.Route {
	return []events.Route{{
		Consumes: events.InventoryReserved,
		Emits:    []events.Type{events.PaymentProcessed, events.PaymentFailed},
		Handle: events.Typed(func(ctx context.Context, _ events.Envelope, p events.InventoryReservedPayload) error {
			if p.TotalAmount.IsNegative() {
				return fmt.Errorf("%w: negative amount for order %s", events.ErrMalformed, p.OrderID)
			}
			if !p.TotalAmount.Equal(p.TotalAmount.Truncate(2)) {
				return fmt.Errorf("%w: sub-cent amount %s for order %s", events.ErrMalformed, p.TotalAmount, p.OrderID)
			}
			_, err := s.Settle(ctx, p.OrderID, p.TotalAmount)
			return err
		}),
	}}
}
