package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers    []string
	Topics     []string
	GroupID    string
	Workers    int
	Redelivery Redelivery
}

// Consumer feeds Kafka messages through a Router. Offsets are committed
// only after the handler returned nil.
type Consumer struct {
	log       *slog.Logger
	cfg       ConsumerConfig
	router    *events.Router
	tracer    trace.Tracer
	newReader func() Reader
}

func NewConsumer(log *slog.Logger, cfg ConsumerConfig, router *events.Router) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Redelivery == (Redelivery{}) {
		cfg.Redelivery = DefaultRedelivery
	}
	c := &Consumer{
		log:    log.With("group", cfg.GroupID),
		cfg:    cfg,
		router: router,
		tracer: otel.Tracer(cfg.GroupID + "-consumer"),
	}
	c.newReader = func() Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupTopics: cfg.Topics,
			GroupID:     cfg.GroupID,
		})
	}
	return c
}

// Run starts one reader per worker in the same consumer group and blocks
// until ctx ends or a reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := c.work(ctx, c.newReader()); err != nil {
				once.Do(func() {
					firstErr = fmt.Errorf("worker %d: %w", id, err)
					cancel()
				})
			}
		}(i)
	}
	wg.Wait()
	return firstErr
}

func (c *Consumer) work(ctx context.Context, r Reader) error {
	defer r.Close()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	env, err := events.Unmarshal(msg.Value)
	if err != nil {
		c.log.Error("unmarshal failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		return nil
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "consume "+string(env.Type))
	defer span.End()

	err = deliver(msgCtx, c.log, c.router, env, c.cfg.Redelivery)
	if errors.Is(err, context.Canceled) {
		c.log.Info("shutdown before ack, message will be redelivered", "event_id", env.ID, "order_id", env.OrderID)
	}
	return err
}
