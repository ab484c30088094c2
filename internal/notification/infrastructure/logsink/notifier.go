// Package logsink delivers notifications as structured log records.
package logsink

import (
	"context"
	"log/slog"

	"github.com/dmehra2102/order-saga/internal/notification/domain"
)

type Notifier struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Notifier {
	return &Notifier{log: log.With("component", "notifier")}
}

func (n *Notifier) Send(ctx context.Context, msg domain.Notification) error {
	n.log.InfoContext(ctx, msg.Subject,
		"order_id", msg.OrderID,
		"event_id", msg.EventID,
		"kind", msg.Kind,
		"body", msg.Body,
	)
	return nil
}
