package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dmehra2102/order-saga/pkg/events"
)

// State is the reservation marker state kept per order.
type State string

const (
	// StatePending is held only inside the reserving transaction.
	StatePending  State = "PENDING"
	StateReserved State = "RESERVED"
	StateReleased State = "RELEASED"
	StateRejected State = "REJECTED"
	// StateCancelled marks an order cancelled before any reservation was
	// attempted, so a late order-created cannot take stock.
	StateCancelled State = "CANCELLED"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrQuantityOverflow  = errors.New("quantity out of range")
)

// MaxQuantity is the largest quantity one order may hold of a product.
const MaxQuantity = math.MaxInt32

type Line struct {
	ProductID string
	Quantity  int
}

type Outcome string

const (
	OutcomeReserved    Outcome = "reserved"
	OutcomeUnavailable Outcome = "unavailable"
	// OutcomeDuplicate means the order already has a marker; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is what one reservation attempt decided.
type Result struct {
	Outcome   Outcome
	Shortfall []events.Shortfall
}

type Release string

const (
	Released   Release = "released"
	Tombstoned Release = "tombstoned"
	NoRelease  Release = "noop"
)

// Lines folds repeated products together and orders the result by product
// id, which is also the row lock order. Quantities must be positive and a
// product's total must stay within MaxQuantity.
func Lines(items []events.Item) ([]Line, error) {
	sum := make(map[string]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 || it.Quantity > MaxQuantity-sum[it.ProductID] {
			return nil, fmt.Errorf("%w: %s", ErrQuantityOverflow, it.ProductID)
		}
		sum[it.ProductID] += it.Quantity
	}
	out := make([]Line, 0, len(sum))
	for id, q := range sum {
		out = append(out, Line{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Check returns every line that cannot be covered by available. Products
// missing from available count as zero stock.
func Check(available map[string]int, lines []Line) []events.Shortfall {
	var short []events.Shortfall
	for _, l := range lines {
		have := available[l.ProductID]
		if have < l.Quantity {
			short = append(short, events.Shortfall{ProductID: l.ProductID, Requested: l.Quantity, Available: have})
		}
	}
	return short
}

func ProductIDs(lines []Line) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}
