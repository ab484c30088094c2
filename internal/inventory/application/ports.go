package application

import (
	"context"

	"github.com/dmehra2102/order-saga/internal/inventory/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
)

// Emitter builds the events for a reservation decision. Repositories write
// them to the outbox in the transaction that applied the decision.
type Emitter func(res domain.Result) ([]events.Envelope, error)

type StockRepository interface {
	// Reserve checks and decrements every line in one transaction. An order
	// that already has a marker yields OutcomeDuplicate and emits nothing.
	Reserve(ctx context.Context, orderID string, lines []domain.Line, emit Emitter) (domain.Result, error)
	// Release restores the stock held by a RESERVED marker exactly once.
	Release(ctx context.Context, orderID string) (domain.Release, error)
	Available(ctx context.Context, productID string) (int, error)
	Seed(ctx context.Context, stock map[string]int) error
}
