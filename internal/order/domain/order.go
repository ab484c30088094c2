package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusCancelled OrderStatus = "CANCELLED"
)

var ErrNotFound = errors.New("order not found")

// MaxQuantity bounds a product's quantity in one order, summed over its
// lines, so stock arithmetic and the INT columns never overflow.
const MaxQuantity = math.MaxInt32

// Amounts are stored as NUMERIC(18, 2).
const amountScale = 2

var maxAmount = decimal.New(1, 18-amountScale)

// ValidationError rejects a creation request before anything is stored.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

type Order struct {
	ID           string
	CustomerID   string
	Items        []OrderItem
	TotalAmount  decimal.Decimal
	Status       OrderStatus
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type OrderItem struct {
	ProductID string
	Quantity  int
}

func NewOrder(id, customerID string, items []OrderItem, total decimal.Decimal, now time.Time) (Order, error) {
	if customerID == "" {
		return Order{}, &ValidationError{Field: "customerId", Msg: "must not be empty"}
	}
	if len(items) == 0 {
		return Order{}, &ValidationError{Field: "items", Msg: "must not be empty"}
	}
	perProduct := make(map[string]int, len(items))
	for i, item := range items {
		if item.ProductID == "" {
			return Order{}, &ValidationError{Field: fmt.Sprintf("items[%d].productId", i), Msg: "must not be empty"}
		}
		if item.Quantity <= 0 {
			return Order{}, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Msg: "must be positive"}
		}
		if item.Quantity > MaxQuantity-perProduct[item.ProductID] {
			return Order{}, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Msg: fmt.Sprintf("total for %s exceeds %d", item.ProductID, MaxQuantity)}
		}
		perProduct[item.ProductID] += item.Quantity
	}
	if total.IsNegative() {
		return Order{}, &ValidationError{Field: "totalAmount", Msg: "must not be negative"}
	}
	if !total.Equal(total.Truncate(amountScale)) {
		return Order{}, &ValidationError{Field: "totalAmount", Msg: fmt.Sprintf("must have at most %d decimal places", amountScale)}
	}
	if total.GreaterThanOrEqual(maxAmount) {
		return Order{}, &ValidationError{Field: "totalAmount", Msg: "too large"}
	}

	now = now.UTC()
	return Order{
		ID:          id,
		CustomerID:  customerID,
		Items:       append([]OrderItem(nil), items...),
		TotalAmount: total,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (o Order) Terminal() bool {
	return o.Status != StatusPending
}

// Complete moves a pending order to COMPLETED. Terminal orders are left
// as they are and false is returned.
func (o *Order) Complete(now time.Time) bool {
	if o.Terminal() {
		return false
	}
	o.Status = StatusCompleted
	o.UpdatedAt = now.UTC()
	return true
}

func (o *Order) Cancel(reason string, now time.Time) bool {
	if o.Terminal() {
		return false
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = now.UTC()
	return true
}
