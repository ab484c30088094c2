package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmehra2102/order-saga/pkg/events"
)

// Redelivery bounds the in-process retry loop applied while a message is
// held unacknowledged.
type Redelivery struct {
	Initial time.Duration
	Max     time.Duration
}

var DefaultRedelivery = Redelivery{Initial: 200 * time.Millisecond, Max: 5 * time.Second}

// deliver runs the router until the handler succeeds, reports a malformed
// event, or ctx ends. A nil return means the message may be acknowledged.
func deliver(ctx context.Context, log *slog.Logger, router *events.Router, env events.Envelope, rd Redelivery) error {
	delay := rd.Initial
	for attempt := 1; ; attempt++ {
		routed, err := router.Dispatch(ctx, env)
		switch {
		case err == nil:
			if !routed {
				log.Debug("event ignored", "event_type", env.Type, "order_id", env.OrderID)
			}
			return nil
		case errors.Is(err, events.ErrMalformed):
			log.Error("dropping malformed event", "event_id", env.ID, "event_type", env.Type, "order_id", env.OrderID, "err", err)
			return nil
		}

		log.Warn("event handling failed, holding for redelivery",
			"event_id", env.ID, "event_type", env.Type, "order_id", env.OrderID, "attempt", attempt, "retry_in", delay, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > rd.Max {
			delay = rd.Max
		}
	}
}
