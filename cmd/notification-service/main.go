package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/order-saga/internal/config"
	"github.com/dmehra2102/order-saga/internal/notification/application"
	"github.com/dmehra2102/order-saga/internal/notification/infrastructure/logsink"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/health"
	"github.com/dmehra2102/order-saga/pkg/idempotency"
	"github.com/dmehra2102/order-saga/pkg/logging"
	"github.com/dmehra2102/order-saga/pkg/messaging"
	"github.com/dmehra2102/order-saga/pkg/shutdown"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

func main() {
	cfg, err := config.Load(events.ServiceNotification)
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

	redisDB := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisDB.Close()

	sink := application.NewSink(log, logsink.New(log), idempotency.NewStore(redisDB, cfg.NotificationDedupTTL))
	router, err := events.NewRouter(sink.Routes()...)
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
	log.Info("notification-service shutdown")
}
