package application

import (
	"context"

	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
)

type OrderRepository interface {
	// Create stores o together with its outbox events.
	Create(ctx context.Context, o domain.Order, envs []events.Envelope) error
	// Update loads the order under a row lock and runs apply on it. When
	// apply changed the status the order and the returned events are
	// committed together. Returns domain.ErrNotFound for unknown ids.
	Update(ctx context.Context, id string, apply func(o *domain.Order) ([]events.Envelope, error)) (o domain.Order, changed bool, err error)
	Get(ctx context.Context, id string) (domain.Order, error)
	// List returns orders newest first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]domain.Order, error)
}
