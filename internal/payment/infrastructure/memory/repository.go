// Package memory keeps payment records in process for tests and the
// single-process runner.
package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/order-saga/internal/payment/application"
	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

type Repository struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	failures map[string]domain.Failure
	outbox   *outbox.MemoryStore
}

var _ application.PaymentRepository = (*Repository)(nil)

func NewRepository(out *outbox.MemoryStore) *Repository {
	return &Repository{
		payments: make(map[string]domain.Payment),
		failures: make(map[string]domain.Failure),
		outbox:   out,
	}
}

func (r *Repository) Find(_ context.Context, orderID string) (domain.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[orderID]; ok {
		return domain.Settlement{Payment: &p}, nil
	}
	if f, ok := r.failures[orderID]; ok {
		return domain.Settlement{Failure: &f}, nil
	}
	return domain.Settlement{}, nil
}

func (r *Repository) SaveProcessed(ctx context.Context, p domain.Payment, emit func(domain.Payment) ([]events.Envelope, error)) (domain.Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.payments[p.OrderID]
	if !exists {
		stored = p
	}
	rows, err := rowsFor(ctx, emit, stored)
	if err != nil {
		return domain.Payment{}, false, err
	}
	if !exists {
		r.payments[p.OrderID] = p
	}
	r.outbox.Append(rows...)
	return stored, !exists, nil
}

func (r *Repository) SaveFailed(ctx context.Context, f domain.Failure, emit func(domain.Failure) ([]events.Envelope, error)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[f.OrderID]; ok {
		return false, domain.ErrAlreadySettled
	}
	if _, ok := r.failures[f.OrderID]; ok {
		return false, nil
	}
	rows, err := rowsFor(ctx, emit, f)
	if err != nil {
		return false, err
	}
	r.failures[f.OrderID] = f
	r.outbox.Append(rows...)
	return true, nil
}

func (r *Repository) Emit(ctx context.Context, envs ...events.Envelope) error {
	rows, err := rowsFor(ctx, func(struct{}) ([]events.Envelope, error) { return envs, nil }, struct{}{})
	if err != nil {
		return err
	}
	r.outbox.Append(rows...)
	return nil
}

// Payments returns how many Payment Records exist for orderID: 0 or 1.
func (r *Repository) Payments(orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[orderID]; ok {
		return 1
	}
	return 0
}

func rowsFor[T any](ctx context.Context, emit func(T) ([]events.Envelope, error), v T) ([]outbox.Event, error) {
	envs, err := emit(v)
	if err != nil {
		return nil, err
	}
	tp := tracing.Traceparent(ctx)
	rows := make([]outbox.Event, 0, len(envs))
	for _, env := range envs {
		ev, err := outbox.FromEnvelope("payment", env, tp)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ev)
	}
	return rows, nil
}
