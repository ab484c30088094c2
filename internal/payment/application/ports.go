package application

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
)

type PaymentRepository interface {
	Find(ctx context.Context, orderID string) (domain.Settlement, error)
	// SaveProcessed inserts p unless the order already has a Payment Record,
	// in which case the stored record is returned and inserted is false.
	// emit runs for whichever record ends up stored.
	SaveProcessed(ctx context.Context, p domain.Payment, emit func(domain.Payment) ([]events.Envelope, error)) (stored domain.Payment, inserted bool, err error)
	// SaveFailed records exhaustion once. It returns domain.ErrAlreadySettled
	// when a Payment Record exists; emit runs only on first insert.
	SaveFailed(ctx context.Context, f domain.Failure, emit func(domain.Failure) ([]events.Envelope, error)) (inserted bool, err error)
	// Emit writes envelopes to the outbox without touching settlement state.
	Emit(ctx context.Context, envs ...events.Envelope) error
}

// Charger performs one charge attempt. A decline is domain.ErrDeclined.
type Charger interface {
	Charge(ctx context.Context, orderID string, amount decimal.Decimal) error
}
