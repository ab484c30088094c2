package outbox

import (
	"time"

	"github.com/dmehra2102/order-saga/pkg/events"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
)

// Event is an outbox row. Payload holds the marshalled events.Envelope.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

// FromEnvelope builds the outbox row for env, to be written in the same
// transaction as the state change that produced it.
func FromEnvelope(aggregateType string, env events.Envelope, traceparent string) (Event, error) {
	payload, err := env.Marshal()
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   env.OrderID,
		Type:          string(env.Type),
		Payload:       payload,
		Headers:       map[string]string{"event_id": env.ID, "source": aggregateType},
		Traceparent:   traceparent,
		CreatedAt:     env.EmittedAt,
		Status:        StatusPending,
	}, nil
}
