package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/order-saga/internal/notification/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/idempotency"
)

type Notifier interface {
	Send(ctx context.Context, n domain.Notification) error
}

// Sink fans terminal events out to a Notifier. Duplicates are suppressed by
// event id on a best-effort basis; a guard outage only means a duplicate.
type Sink struct {
	log      *slog.Logger
	notifier Notifier
	seen     idempotency.Guard
	now      func() time.Time
}

func NewSink(log *slog.Logger, notifier Notifier, seen idempotency.Guard) *Sink {
	return &Sink{log: log, notifier: notifier, seen: seen, now: time.Now}
}

// Notify reports whether a notification was sent.
func (s *Sink) Notify(ctx context.Context, e events.Envelope) (bool, error) {
	n, err := domain.Render(e, s.now())
	if err != nil {
		return false, err
	}

	if s.seen != nil {
		dup, err := s.seen.Seen(ctx, idempotency.Key("notify", e.ID))
		if err != nil {
			s.log.WarnContext(ctx, "notification dedupe unavailable", "event_id", e.ID, "err", err)
		} else if dup {
			s.log.DebugContext(ctx, "duplicate notification skipped", "event_id", e.ID, "order_id", e.OrderID)
			return false, nil
		}
	}

	if err := s.notifier.Send(ctx, n); err != nil {
		if s.seen != nil {
			// let the redelivery through the dedupe
			_ = s.seen.Release(context.WithoutCancel(ctx), idempotency.Key("notify", e.ID), "1")
		}
		return false, fmt.Errorf("send %s for order %s: %w", n.Kind, n.OrderID, err)
	}
	return true, nil
}

func (s *Sink) Routes() []events.Route {
	handle := func(ctx context.Context, e events.Envelope) error {
		_, err := s.Notify(ctx, e)
		return err
	}
	var routes []events.Route
	for _, t := range events.ConsumedBy(events.ServiceNotification) {
		routes = append(routes, events.Route{Consumes: t, Handle: handle})
	}
	return routes
}
