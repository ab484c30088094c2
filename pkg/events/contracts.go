package events

import "github.com/shopspring/decimal"

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"orderId"`
	CustomerID  string          `json:"customerId"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

type OrderCompletedPayload struct {
	OrderID     string          `json:"orderId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// InventoryReservedPayload carries the order total through to settlement.
type InventoryReservedPayload struct {
	OrderID     string          `json:"orderId"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type Shortfall struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type InventoryUnavailablePayload struct {
	OrderID   string      `json:"orderId"`
	Reason    string      `json:"reason"`
	Shortfall []Shortfall `json:"shortfall,omitempty"`
}

type PaymentProcessedPayload struct {
	OrderID   string          `json:"orderId"`
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
}

type PaymentFailedPayload struct {
	OrderID  string `json:"orderId"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// Contract describes who produces an event type and who consumes it.
type Contract struct {
	Type      Type
	Producer  string
	Consumers []string
}

const (
	ServiceOrder        = "order-service"
	ServiceInventory    = "inventory-service"
	ServicePayment      = "payment-service"
	ServiceNotification = "notification-service"
)

var Contracts = []Contract{
	{OrderCreated, ServiceOrder, []string{ServiceInventory}},
	{InventoryReserved, ServiceInventory, []string{ServicePayment}},
	{InventoryUnavailable, ServiceInventory, []string{ServiceOrder}},
	{PaymentProcessed, ServicePayment, []string{ServiceOrder, ServiceNotification}},
	{PaymentFailed, ServicePayment, []string{ServiceOrder, ServiceNotification}},
	{OrderCancelled, ServiceOrder, []string{ServiceInventory, ServiceNotification}},
	{OrderCompleted, ServiceOrder, []string{ServiceNotification}},
}

// Topic is the transport topic a producer publishes on.
func Topic(producer string) string {
	switch producer {
	case ServiceOrder:
		return "order.events"
	case ServiceInventory:
		return "inventory.events"
	case ServicePayment:
		return "payment.events"
	}
	return ""
}

// ConsumedBy lists the event types a service subscribes to.
func ConsumedBy(service string) []Type {
	var out []Type
	for _, c := range Contracts {
		for _, s := range c.Consumers {
			if s == service {
				out = append(out, c.Type)
			}
		}
	}
	return out
}

// TopicsFor lists the producer topics carrying the events a service consumes.
func TopicsFor(service string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range Contracts {
		for _, s := range c.Consumers {
			if s != service {
				continue
			}
			t := Topic(c.Producer)
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
