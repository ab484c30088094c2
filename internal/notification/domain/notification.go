package domain

import (
	"fmt"
	"time"

	"github.com/dmehra2102/order-saga/pkg/events"
)

type Kind string

const (
	KindPaymentReceipt Kind = "payment-receipt"
	KindPaymentFailed  Kind = "payment-failed"
	KindOrderCancelled Kind = "order-cancelled"
	KindOrderCompleted Kind = "order-completed"
)

type Notification struct {
	EventID string
	OrderID string
	Kind    Kind
	Subject string
	Body    string
	SentAt  time.Time
}

// Render turns a terminal event into the message sent for it.
func Render(e events.Envelope, now time.Time) (Notification, error) {
	n := Notification{EventID: e.ID, OrderID: e.OrderID, SentAt: now.UTC()}
	switch e.Type {
	case events.PaymentProcessed:
		p, err := events.Decode[events.PaymentProcessedPayload](e)
		if err != nil {
			return Notification{}, err
		}
		n.Kind = KindPaymentReceipt
		n.Subject = "Payment received"
		n.Body = fmt.Sprintf("We received %s for order %s (payment %s).", p.Amount.StringFixed(2), p.OrderID, p.PaymentID)
	case events.PaymentFailed:
		p, err := events.Decode[events.PaymentFailedPayload](e)
		if err != nil {
			return Notification{}, err
		}
		n.Kind = KindPaymentFailed
		n.Subject = "Payment failed"
		n.Body = fmt.Sprintf("Payment for order %s failed: %s.", p.OrderID, p.Reason)
	case events.OrderCancelled:
		p, err := events.Decode[events.OrderCancelledPayload](e)
		if err != nil {
			return Notification{}, err
		}
		n.Kind = KindOrderCancelled
		n.Subject = "Order cancelled"
		n.Body = fmt.Sprintf("Order %s was cancelled.", p.OrderID)
		if p.Reason != "" {
			n.Body = fmt.Sprintf("Order %s was cancelled: %s.", p.OrderID, p.Reason)
		}
	case events.OrderCompleted:
		p, err := events.Decode[events.OrderCompletedPayload](e)
		if err != nil {
			return Notification{}, err
		}
		n.Kind = KindOrderCompleted
		n.Subject = "Order confirmed"
		n.Body = fmt.Sprintf("Order %s is confirmed, total %s.", p.OrderID, p.TotalAmount.StringFixed(2))
	default:
		return Notification{}, fmt.Errorf("%w: no notification for %s", events.ErrMalformed, e.Type)
	}
	return n, nil
}
