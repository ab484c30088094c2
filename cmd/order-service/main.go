package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/order-saga/internal/config"
	"github.com/dmehra2102/order-saga/internal/order/application"
	orderhttp "github.com/dmehra2102/order-saga/internal/order/infrastructure/http"
	orderpg "github.com/dmehra2102/order-saga/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/health"
	"github.com/dmehra2102/order-saga/pkg/logging"
	"github.com/dmehra2102/order-saga/pkg/messaging"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/shutdown"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

func main() {
	cfg, err := config.Load(events.ServiceOrder)
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

	// Postgres Setup
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := orderpg.EnsureSchema(ctx, pool); err != nil {
		log.Error("schema setup failed", "err", err)
		os.Exit(1)
	}

	// Kafka producer
	writer := messaging.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	repo := orderpg.NewRepository(log, pool)
	svc := application.NewService(log, repo)

	dispatch := outbox.NewDispatcher(log, writer, cfg.OutTopic)
	relay := outbox.NewRelay(log, outbox.NewPGStore(log, pool), dispatch, cfg.Service+"-relay",
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithInterval(cfg.OutboxInterval),
		outbox.WithLease(cfg.OutboxLease),
	)

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

	// HTTP server
	r := chi.NewRouter()
	r.Mount("/", orderhttp.NewHandler(log, svc).Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("order-service shutdown complete")
}
