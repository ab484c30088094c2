package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
)

func TestSimulatedUsesProbability(t *testing.T) {
	rolls := []float64{0.1, 0.79, 0.8, 0.95}
	s := NewSimulated(0.8)
	s.roll = func() float64 {
		r := rolls[0]
		rolls = rolls[1:]
		return r
	}

	var got []error
	for range 4 {
		got = append(got, s.Charge(context.Background(), "o-1", decimal.NewFromInt(1)))
	}
	assert.Equal(t, []error{nil, nil, domain.ErrDeclined, domain.ErrDeclined}, got)
}

func TestSimulatedEdges(t *testing.T) {
	assert.NoError(t, NewSimulated(1).Charge(context.Background(), "o", decimal.Zero))
	assert.ErrorIs(t, NewSimulated(0).Charge(context.Background(), "o", decimal.Zero), domain.ErrDeclined)
}
