// Package gateway holds the charge backends.
package gateway

import (
	"context"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
)

// Simulated approves each attempt independently with a fixed probability.
type Simulated struct {
	p    float64
	roll func() float64
}

func NewSimulated(successProbability float64) *Simulated {
	return &Simulated{p: successProbability, roll: rand.Float64}
}

func (s *Simulated) Charge(ctx context.Context, _ string, _ decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.roll() < s.p {
		return nil
	}
	return domain.ErrDeclined
}
