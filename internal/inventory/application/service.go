package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-saga/internal/inventory/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
)

const reasonUnavailable = "Inventory Unavailable"

type Service struct {
	log  *slog.Logger
	repo StockRepository
	now  func() time.Time
}

func NewService(log *slog.Logger, repo StockRepository) *Service {
	return &Service{log: log, repo: repo, now: time.Now}
}

// Reserve takes stock for every item of the order or for none of them.
func (s *Service) Reserve(ctx context.Context, orderID string, items []events.Item, total decimal.Decimal) (domain.Outcome, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("%w: order %s has no items", events.ErrMalformed, orderID)
	}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return "", fmt.Errorf("%w: order %s has an invalid line", events.ErrMalformed, orderID)
		}
	}

	lines, err := domain.Lines(items)
	if err != nil {
		return "", fmt.Errorf("%w: order %s: %v", events.ErrMalformed, orderID, err)
	}

	res, err := s.repo.Reserve(ctx, orderID, lines, func(res domain.Result) ([]events.Envelope, error) {
		switch res.Outcome {
		case domain.OutcomeReserved:
			env, err := events.New(events.InventoryReserved, orderID, events.InventoryReservedPayload{
				OrderID:     orderID,
				Items:       items,
				TotalAmount: total,
			}, s.now())
			return []events.Envelope{env}, err
		case domain.OutcomeUnavailable:
			env, err := events.New(events.InventoryUnavailable, orderID, events.InventoryUnavailablePayload{
				OrderID:   orderID,
				Reason:    shortfallReason(res.Shortfall),
				Shortfall: res.Shortfall,
			}, s.now())
			return []events.Envelope{env}, err
		}
		return nil, nil
	})
	if err != nil {
		return "", fmt.Errorf("reserve order %s: %w", orderID, err)
	}

	s.log.InfoContext(ctx, "reservation decided", "order_id", orderID, "outcome", res.Outcome)
	return res.Outcome, nil
}

// Compensate returns the stock reserved for a cancelled order.
func (s *Service) Compensate(ctx context.Context, orderID string) (domain.Release, error) {
	rel, err := s.repo.Release(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("release order %s: %w", orderID, err)
	}
	s.log.InfoContext(ctx, "compensation applied", "order_id", orderID, "result", rel)
	return rel, nil
}

func (s *Service) Available(ctx context.Context, productID string) (int, error) {
	return s.repo.Available(ctx, productID)
}

func (s *Service) Routes() []events.Route {
	return []events.Route{
		{
			Consumes: events.OrderCreated,
			Emits:    []events.Type{events.InventoryReserved, events.InventoryUnavailable},
			Handle: events.Typed(func(ctx context.Context, _ events.Envelope, p events.OrderCreatedPayload) error {
				_, err := s.Reserve(ctx, p.OrderID, p.Items, p.TotalAmount)
				return err
			}),
		},
		{
			Consumes: events.OrderCancelled,
			Handle: events.Typed(func(ctx context.Context, _ events.Envelope, p events.OrderCancelledPayload) error {
				_, err := s.Compensate(ctx, p.OrderID)
				return err
			}),
		},
	}
}

func shortfallReason(short []events.Shortfall) string {
	if len(short) == 0 {
		return reasonUnavailable
	}
	parts := make([]string, len(short))
	for i, sf := range short {
		parts[i] = fmt.Sprintf("%s requested %d available %d", sf.ProductID, sf.Requested, sf.Available)
	}
	return reasonUnavailable + ": " + strings.Join(parts, ", ")
}
