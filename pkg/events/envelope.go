package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	OrderCreated         Type = "order-created"
	OrderCancelled       Type = "order-cancelled"
	OrderCompleted       Type = "order-completed"
	InventoryReserved    Type = "inventory-reserved"
	InventoryUnavailable Type = "inventory-unavailable"
	PaymentProcessed     Type = "payment-processed"
	PaymentFailed        Type = "payment-failed"
)

// ErrMalformed marks a message that can never be processed. Consumers
// acknowledge and drop it instead of waiting for a redelivery.
var ErrMalformed = errors.New("malformed event")

// Envelope is the immutable unit exchanged between services.
type Envelope struct {
	ID        string          `json:"eventId"`
	Type      Type            `json:"type"`
	OrderID   string          `json:"orderId"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emittedAt"`
}

func New(t Type, orderID string, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		OrderID:   orderID,
		Payload:   raw,
		EmittedAt: now.UTC(),
	}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Type == "" || e.OrderID == "" {
		return Envelope{}, fmt.Errorf("%w: missing type or order id", ErrMalformed)
	}
	return e, nil
}

// Decode unmarshals the payload of e into T.
func Decode[T any](e Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return v, nil
}
