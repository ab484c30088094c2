// Package memory keeps the stock ledger in process for tests and the
// single-process runner.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmehra2102/order-saga/internal/inventory/application"
	"github.com/dmehra2102/order-saga/internal/inventory/domain"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

type Repository struct {
	mu      sync.Mutex
	stock   map[string]int
	markers map[string]domain.State
	lines   map[string][]domain.Line
	outbox  *outbox.MemoryStore
}

var _ application.StockRepository = (*Repository)(nil)

func NewRepository(out *outbox.MemoryStore) *Repository {
	return &Repository{
		stock:   make(map[string]int),
		markers: make(map[string]domain.State),
		lines:   make(map[string][]domain.Line),
		outbox:  out,
	}
}

func (r *Repository) Reserve(ctx context.Context, orderID string, lines []domain.Line, emit application.Emitter) (domain.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.markers[orderID]; ok {
		return domain.Result{Outcome: domain.OutcomeDuplicate}, nil
	}

	res := domain.Result{Outcome: domain.OutcomeReserved, Shortfall: domain.Check(r.stock, lines)}
	if len(res.Shortfall) > 0 {
		res.Outcome = domain.OutcomeUnavailable
	}
	rows, err := rowsFor(ctx, res, emit)
	if err != nil {
		return domain.Result{}, err
	}

	if res.Outcome == domain.OutcomeReserved {
		for _, l := range lines {
			if err := r.adjust(l.ProductID, -l.Quantity); err != nil {
				return domain.Result{}, err
			}
		}
		r.lines[orderID] = append([]domain.Line(nil), lines...)
		r.markers[orderID] = domain.StateReserved
	} else {
		r.markers[orderID] = domain.StateRejected
	}
	r.outbox.Append(rows...)
	return res, nil
}

func (r *Repository) Release(_ context.Context, orderID string) (domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.markers[orderID]
	if !ok {
		r.markers[orderID] = domain.StateCancelled
		return domain.Tombstoned, nil
	}
	if state != domain.StateReserved {
		return domain.NoRelease, nil
	}
	for _, l := range r.lines[orderID] {
		_ = r.adjust(l.ProductID, l.Quantity)
	}
	r.markers[orderID] = domain.StateReleased
	return domain.Released, nil
}

func (r *Repository) Available(_ context.Context, productID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[productID], nil
}

func (r *Repository) Seed(_ context.Context, stock map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, qty := range stock {
		if _, ok := r.stock[id]; !ok {
			r.stock[id] = qty
		}
	}
	return nil
}

// Marker reports the reservation state for orderID.
func (r *Repository) Marker(orderID string) (domain.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.markers[orderID]
	return s, ok
}

func (r *Repository) adjust(productID string, delta int) error {
	if r.stock[productID]+delta < 0 {
		return fmt.Errorf("adjust %s by %d: %w", productID, delta, domain.ErrInsufficientStock)
	}
	r.stock[productID] += delta
	return nil
}

func rowsFor(ctx context.Context, res domain.Result, emit application.Emitter) ([]outbox.Event, error) {
	envs, err := emit(res)
	if err != nil {
		return nil, err
	}
	tp := tracing.Traceparent(ctx)
	rows := make([]outbox.Event, 0, len(envs))
	for _, env := range envs {
		ev, err := outbox.FromEnvelope("inventory", env, tp)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ev)
	}
	return rows, nil
}
