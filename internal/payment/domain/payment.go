package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
)

var (
	// ErrDeclined is one unsuccessful charge attempt.
	ErrDeclined = errors.New("charge declined")
	// ErrAlreadySettled reports that a Payment Record exists for the order.
	ErrAlreadySettled = errors.New("order already settled")
)

// Payment is the settlement record, unique per order.
type Payment struct {
	ID        string
	OrderID   string
	Amount    decimal.Decimal
	Attempts  int
	CreatedAt time.Time
}

// Failure records that retries were exhausted for an order.
type Failure struct {
	OrderID   string
	Reason    string
	Attempts  int
	CreatedAt time.Time
}

// Settlement is what storage already knows about an order. At most one of
// the two is set.
type Settlement struct {
	Payment *Payment
	Failure *Failure
}
