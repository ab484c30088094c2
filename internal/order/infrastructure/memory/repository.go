// Package memory keeps orders in process for tests and the single-process
// runner.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

type Repository struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	outbox *outbox.MemoryStore
}

var _ application.OrderRepository = (*Repository)(nil)

func NewRepository(out *outbox.MemoryStore) *Repository {
	return &Repository{orders: make(map[string]domain.Order), outbox: out}
}

func (r *Repository) Create(ctx context.Context, o domain.Order, envs []events.Envelope) error {
	rows, err := rowsFor(ctx, envs)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = clone(o)
	r.outbox.Append(rows...)
	return nil
}

func (r *Repository) Update(ctx context.Context, id string, apply func(o *domain.Order) ([]events.Envelope, error)) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[id]
	if !ok {
		return domain.Order{}, false, domain.ErrNotFound
	}
	o := clone(stored)
	envs, err := apply(&o)
	if err != nil {
		return domain.Order{}, false, err
	}
	if o.Status == stored.Status {
		return o, false, nil
	}
	rows, err := rowsFor(ctx, envs)
	if err != nil {
		return domain.Order{}, false, err
	}
	r.orders[id] = o
	r.outbox.Append(rows...)
	return clone(o), true, nil
}

func (r *Repository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return clone(o), nil
}

func (r *Repository) List(_ context.Context, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

func rowsFor(ctx context.Context, envs []events.Envelope) ([]outbox.Event, error) {
	tp := tracing.Traceparent(ctx)
	rows := make([]outbox.Event, 0, len(envs))
	for _, env := range envs {
		ev, err := outbox.FromEnvelope("order", env, tp)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ev)
	}
	return rows, nil
}
