// Package choreography wires every service of the saga into one process
// over in-memory storage. It backs the single-process runner and the
// end-to-end tests; services still talk only through their outboxes.
package choreography

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	invapp "github.com/dmehra2102/order-saga/internal/inventory/application"
	invmem "github.com/dmehra2102/order-saga/internal/inventory/infrastructure/memory"
	notifapp "github.com/dmehra2102/order-saga/internal/notification/application"
	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	ordermem "github.com/dmehra2102/order-saga/internal/order/infrastructure/memory"
	payapp "github.com/dmehra2102/order-saga/internal/payment/application"
	paydomain "github.com/dmehra2102/order-saga/internal/payment/domain"
	paymem "github.com/dmehra2102/order-saga/internal/payment/infrastructure/memory"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/idempotency"
	"github.com/dmehra2102/order-saga/pkg/messaging"
	"github.com/dmehra2102/order-saga/pkg/outbox"
)

type Options struct {
	Stock    map[string]int
	Charger  payapp.Charger
	Policy   paydomain.RetryPolicy
	Sleeper  paydomain.Sleeper
	ClaimTTL time.Duration
	Notifier notifapp.Notifier
}

type Local struct {
	log *slog.Logger

	Orders        *orderapp.Service
	Inventory     *invapp.Service
	Payments      *payapp.Service
	Notifications *notifapp.Sink

	InventoryRepo *invmem.Repository
	PaymentRepo   *paymem.Repository

	routers  map[string]*events.Router
	outboxes map[string]*outbox.MemoryStore
	// producers in publish order
	producers []string
}

func NewLocal(ctx context.Context, log *slog.Logger, opts Options) (*Local, error) {
	l := &Local{
		log:       log,
		routers:   make(map[string]*events.Router),
		outboxes:  make(map[string]*outbox.MemoryStore),
		producers: []string{events.ServiceOrder, events.ServiceInventory, events.ServicePayment},
	}
	for _, p := range l.producers {
		l.outboxes[p] = outbox.NewMemoryStore()
	}

	l.Orders = orderapp.NewService(log.With("service", events.ServiceOrder), ordermem.NewRepository(l.outboxes[events.ServiceOrder]))

	l.InventoryRepo = invmem.NewRepository(l.outboxes[events.ServiceInventory])
	if err := l.InventoryRepo.Seed(ctx, opts.Stock); err != nil {
		return nil, err
	}
	l.Inventory = invapp.NewService(log.With("service", events.ServiceInventory), l.InventoryRepo)

	l.PaymentRepo = paymem.NewRepository(l.outboxes[events.ServicePayment])
	payOpts := []payapp.Option{}
	if opts.Sleeper != nil {
		payOpts = append(payOpts, payapp.WithSleeper(opts.Sleeper))
	}
	if opts.ClaimTTL > 0 {
		payOpts = append(payOpts, payapp.WithClaimTTL(opts.ClaimTTL))
	}
	l.Payments = payapp.NewService(log.With("service", events.ServicePayment), l.PaymentRepo,
		idempotency.NewMemoryStore(0), opts.Charger, opts.Policy, payOpts...)

	l.Notifications = notifapp.NewSink(log.With("service", events.ServiceNotification), opts.Notifier, idempotency.NewMemoryStore(time.Hour))

	for svc, routes := range map[string][]events.Route{
		events.ServiceOrder:        l.Orders.Routes(),
		events.ServiceInventory:    l.Inventory.Routes(),
		events.ServicePayment:      l.Payments.Routes(),
		events.ServiceNotification: l.Notifications.Routes(),
	} {
		r, err := events.NewRouter(routes...)
		if err != nil {
			return nil, fmt.Errorf("%s routes: %w", svc, err)
		}
		l.routers[svc] = r
	}
	return l, nil
}

// Publish delivers e to every service synchronously. It makes Local an
// outbox.Publisher for deterministic runs.
func (l *Local) Publish(ctx context.Context, e outbox.Event) error {
	env, err := events.Unmarshal(e.Payload)
	if err != nil {
		return err
	}
	var errs []error
	for svc, r := range l.routers {
		_, err := r.Dispatch(ctx, env)
		switch {
		case errors.Is(err, events.ErrMalformed):
			l.log.Error("dropping malformed event", "service", svc, "event_id", env.ID, "err", err)
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", svc, err))
		}
	}
	return errors.Join(errs...)
}

// Pump relays outbox rows through Publish until every outbox is empty. A
// pass that moves nothing while rows remain reports them as stuck.
func (l *Local) Pump(ctx context.Context) error {
	return l.pumpThrough(ctx, l)
}

func (l *Local) pumpThrough(ctx context.Context, pub outbox.Publisher) error {
	relays := make([]*outbox.Relay, len(l.producers))
	for i, p := range l.producers {
		relays[i] = outbox.NewRelay(l.log, l.outboxes[p], pub, p+"-pump")
	}
	for {
		moved := 0
		for _, r := range relays {
			n, err := r.Drain(ctx)
			if err != nil {
				return err
			}
			moved += n
		}
		if moved > 0 {
			continue
		}
		if n := l.pending(); n > 0 {
			return fmt.Errorf("outbox stuck with %d pending events", n)
		}
		return nil
	}
}

func (l *Local) pending() int {
	n := 0
	for _, s := range l.outboxes {
		n += len(s.Pending())
	}
	return n
}

// Run serves the services over bus, with one relay per producer, until ctx
// ends.
func (l *Local) Run(ctx context.Context, bus *messaging.Bus, relayOpts ...outbox.Option) error {
	for svc, r := range l.routers {
		if err := bus.Subscribe(svc, r, 256); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for _, p := range l.producers {
		relay := outbox.NewRelay(l.log.With("relay", p), l.outboxes[p], bus, p+"-relay", relayOpts...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = relay.Run(ctx)
		}()
	}
	bus.Run(ctx)
	wg.Wait()
	return nil
}

// Idle reports whether every outbox has been relayed.
func (l *Local) Idle() bool {
	return l.pending() == 0
}
