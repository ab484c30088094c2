package main

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/order-saga/internal/config"
	"github.com/dmehra2102/order-saga/internal/payment/application"
	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/dmehra2102/order-saga/internal/payment/infrastructure/gateway"
	pg "github.com/dmehra2102/order-saga/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/health"
	"github.com/dmehra2102/order-saga/pkg/idempotency"
	"github.com/dmehra2102/order-saga/pkg/logging"
	"github.com/dmehra2102/order-saga/pkg/messaging"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/shutdown"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

func main() {
	cfg, err := config.Load(events.ServicePayment)
	if err != nil {
		logging.New("info").Error("config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel).With("service", cfg.Service)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Service, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		log.Error("schema setup failed", "err", err)
		os.Exit(1)
	}

	redisDB := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisDB.Close()
	claims := idempotency.NewStore(redisDB, cfg.Payment.ClaimTTL)

	repo := pg.NewRepository(log, pool)
	svc := application.NewService(log, repo, claims,
		gateway.NewSimulated(cfg.Payment.SuccessProbability),
		domain.RetryPolicy{
			MaxAttempts: cfg.Payment.MaxAttempts,
			BaseDelay:   cfg.Payment.BaseDelay,
			MaxDelay:    cfg.Payment.MaxDelay,
		},
		application.WithClaimTTL(cfg.Payment.ClaimTTL),
	)

	// Outbox relay for payment events
	writer := messaging.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutTopic)
	relay := outbox.NewRelay(log, outbox.NewPGStore(log, pool), dispatch, cfg.Service+"-relay",
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithInterval(cfg.OutboxInterval),
		outbox.WithLease(cfg.OutboxLease),
	)
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped", "err", err)
		}
	}()

	router, err := events.NewRouter(svc.Routes()...)
	if err != nil {
		log.Error("router setup failed", "err", err)
		os.Exit(1)
	}
	consumer := messaging.NewConsumer(log, messaging.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topics:  cfg.InTopics,
		GroupID: cfg.GroupID,
		Workers: cfg.Workers,
	}, router)

	hs, err := health.Run(cfg.HealthAddr, cfg.Service)
	if err != nil {
		log.Error("health server failed", "err", err)
		os.Exit(1)
	}
	defer hs.Stop()

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("payment-service shutdown")
}
