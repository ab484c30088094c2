package outbox

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// Publisher hands one outbox event to the transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Relay struct {
	log       *slog.Logger
	store     Store
	publisher Publisher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

type Option func(*Relay)

func WithBatchSize(n int) Option { return func(r *Relay) { r.batchSize = n } }

func WithInterval(d time.Duration) Option { return func(r *Relay) { r.interval = d } }

func WithLease(d time.Duration) Option { return func(r *Relay) { r.lease = d } }

func NewRelay(log *slog.Logger, store Store, publisher Publisher, relayID string, opts ...Option) *Relay {
	r := &Relay{
		log:       log,
		store:     store,
		publisher: publisher,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			if _, err := r.Drain(ctx); err != nil {
				r.log.Error("relay lock batch error", "relay_id", r.relayID, "err", err)
			}
		}
	}
}

// Drain publishes one batch and reports how many events were sent.
// Events that fail to publish go back to pending for the next pass.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.publisher.Publish(ctx, e); err != nil {
			if markErr := r.store.MarkFailed(ctx, e.ID, err.Error()); markErr != nil {
				r.log.Error("relay mark failed error", "event_id", e.ID, "err", markErr)
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			r.log.Error("relay mark sent error", "err", err)
			return 0, err
		}
	}
	return len(ids), nil
}
