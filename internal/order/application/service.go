package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
)

const (
	ReasonInventoryUnavailable = "Inventory Unavailable"
	ReasonPaymentFailed        = "Payment Failed"
)

type Service struct {
	log  *slog.Logger
	repo OrderRepository
	now  func() time.Time
}

func NewService(log *slog.Logger, repo OrderRepository) *Service {
	return &Service{log: log, repo: repo, now: time.Now}
}

// CreateOrder persists a PENDING order and its order-created event in one
// transaction. Invalid input returns *domain.ValidationError and stores
// nothing.
func (s *Service) CreateOrder(ctx context.Context, customerID string, items []domain.OrderItem, total decimal.Decimal) (domain.Order, error) {
	o, err := domain.NewOrder(uuid.NewString(), customerID, items, total, s.now())
	if err != nil {
		return domain.Order{}, err
	}

	lines := make([]events.Item, len(o.Items))
	for i, it := range o.Items {
		lines[i] = events.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	env, err := events.New(events.OrderCreated, o.ID, events.OrderCreatedPayload{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		Items:       lines,
		TotalAmount: o.TotalAmount,
	}, o.CreatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.repo.Create(ctx, o, []events.Envelope{env}); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	s.log.InfoContext(ctx, "order created", "order_id", o.ID, "customer_id", o.CustomerID)
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	return s.repo.List(ctx, limit)
}

func (s *Service) HandleInventoryUnavailable(ctx context.Context, orderID string) (bool, error) {
	return s.cancel(ctx, orderID, ReasonInventoryUnavailable)
}

func (s *Service) HandlePaymentFailed(ctx context.Context, orderID string) (bool, error) {
	return s.cancel(ctx, orderID, ReasonPaymentFailed)
}

// HandlePaymentProcessed completes a pending order. The boolean reports
// whether the state changed; redelivered or late outcomes return false.
func (s *Service) HandlePaymentProcessed(ctx context.Context, orderID string) (bool, error) {
	return s.resolve(ctx, orderID, func(o *domain.Order) ([]events.Envelope, error) {
		if !o.Complete(s.now()) {
			return nil, nil
		}
		env, err := events.New(events.OrderCompleted, o.ID, events.OrderCompletedPayload{
			OrderID:     o.ID,
			TotalAmount: o.TotalAmount,
		}, s.now())
		return []events.Envelope{env}, err
	})
}

func (s *Service) cancel(ctx context.Context, orderID, reason string) (bool, error) {
	return s.resolve(ctx, orderID, func(o *domain.Order) ([]events.Envelope, error) {
		if !o.Cancel(reason, s.now()) {
			return nil, nil
		}
		env, err := events.New(events.OrderCancelled, o.ID, events.OrderCancelledPayload{
			OrderID: o.ID,
			Reason:  reason,
		}, s.now())
		return []events.Envelope{env}, err
	})
}

func (s *Service) resolve(ctx context.Context, orderID string, apply func(o *domain.Order) ([]events.Envelope, error)) (bool, error) {
	o, changed, err := s.repo.Update(ctx, orderID, apply)
	if errors.Is(err, domain.ErrNotFound) {
		// Outcomes only exist for orders that were committed first.
		return false, fmt.Errorf("%w: outcome for unknown order %s", events.ErrMalformed, orderID)
	}
	if err != nil {
		return false, fmt.Errorf("resolve order %s: %w", orderID, err)
	}
	if !changed {
		s.log.InfoContext(ctx, "order already terminal", "order_id", orderID, "status", o.Status)
		return false, nil
	}
	s.log.InfoContext(ctx, "order resolved", "order_id", orderID, "status", o.Status, "reason", o.CancelReason)
	return true, nil
}

func (s *Service) Routes() []events.Route {
	return []events.Route{
		{
			Consumes: events.InventoryUnavailable,
			Emits:    []events.Type{events.OrderCancelled},
			Handle: events.Typed(func(ctx context.Context, _ events.Envelope, p events.InventoryUnavailablePayload) error {
				_, err := s.HandleInventoryUnavailable(ctx, p.OrderID)
				return err
			}),
		},
		{
			Consumes: events.PaymentFailed,
			Emits:    []events.Type{events.OrderCancelled},
			Handle: events.Typed(func(ctx context.Context, _ events.Envelope, p events.PaymentFailedPayload) error {
				_, err := s.HandlePaymentFailed(ctx, p.OrderID)
				return err
			}),
		},
		{
			Consumes: events.PaymentProcessed,
			Emits:    []events.Type{events.OrderCompleted},
			Handle: events.Typed(func(ctx context.Context, _ events.Envelope, p events.PaymentProcessedPayload) error {
				_, err := s.HandlePaymentProcessed(ctx, p.OrderID)
				return err
			}),
		},
	}
}
