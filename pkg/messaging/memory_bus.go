package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
)

// Bus is an in-process transport with one queue per subscriber group. It
// keeps the delivery contract of the Kafka consumer: a message leaves its
// queue only after the handler succeeded.
type Bus struct {
	log        *slog.Logger
	groups     *xsync.MapOf[string, *group]
	redelivery Redelivery
}

type group struct {
	name   string
	router *events.Router
	queue  chan events.Envelope
}

func NewBus(log *slog.Logger, rd Redelivery) *Bus {
	return &Bus{
		log:        log,
		groups:     xsync.NewMapOf[string, *group](),
		redelivery: rd,
	}
}

func (b *Bus) Subscribe(name string, router *events.Router, buffer int) error {
	g := &group{name: name, router: router, queue: make(chan events.Envelope, buffer)}
	if _, loaded := b.groups.LoadOrStore(name, g); loaded {
		return fmt.Errorf("group %s already subscribed", name)
	}
	return nil
}

// Publish implements outbox.Publisher.
func (b *Bus) Publish(ctx context.Context, e outbox.Event) error {
	env, err := events.Unmarshal(e.Payload)
	if err != nil {
		return err
	}
	var pubErr error
	b.groups.Range(func(_ string, g *group) bool {
		if !consumes(g.router, env.Type) {
			return true
		}
		select {
		case g.queue <- env:
			return true
		case <-ctx.Done():
			pubErr = ctx.Err()
			return false
		}
	})
	return pubErr
}

// Run drains every group until ctx ends.
func (b *Bus) Run(ctx context.Context) {
	var wg sync.WaitGroup
	b.groups.Range(func(_ string, g *group) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := b.log.With("group", g.name)
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-g.queue:
					if err := deliver(ctx, log, g.router, env, b.redelivery); err != nil {
						return
					}
				}
			}
		}()
		return true
	})
	wg.Wait()
}

func consumes(r *events.Router, t events.Type) bool {
	for _, c := range r.Consumes() {
		if c == t {
			return true
		}
	}
	return false
}
