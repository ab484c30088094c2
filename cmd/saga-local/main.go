// Command saga-local runs every saga service in one process over in-memory
// storage. By default it places a few demo orders, relays until the system
// is quiet and prints the outcome. With -serve it keeps running behind the
// order HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-saga/internal/choreography"
	"github.com/dmehra2102/order-saga/internal/config"
	"github.com/dmehra2102/order-saga/internal/notification/infrastructure/logsink"
	orderdomain "github.com/dmehra2102/order-saga/internal/order/domain"
	orderhttp "github.com/dmehra2102/order-saga/internal/order/infrastructure/http"
	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/dmehra2102/order-saga/internal/payment/infrastructure/gateway"
	"github.com/dmehra2102/order-saga/pkg/logging"
	"github.com/dmehra2102/order-saga/pkg/messaging"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/shutdown"
)

var demoStock = map[string]int{"product-A": 10, "product-B": 5, "product-C": 0}

type demoOrder struct {
	customer string
	items    []orderdomain.OrderItem
	total    string
}

var demoOrders = []demoOrder{
	{"customer-1", []orderdomain.OrderItem{{ProductID: "product-A", Quantity: 2}, {ProductID: "product-B", Quantity: 1}}, "100.00"},
	{"customer-2", []orderdomain.OrderItem{{ProductID: "product-C", Quantity: 1}}, "25.00"},
	{"customer-3", []orderdomain.OrderItem{{ProductID: "product-B", Quantity: 4}}, "80.00"},
}

func main() {
	serve := flag.Bool("serve", false, "serve the order API over the in-memory bus instead of running the demo")
	flag.Parse()

	cfg, err := config.Load("saga-local")
	if err != nil {
		logging.New("info").Error("config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	stock := cfg.SeedStock
	if len(stock) == 0 {
		stock = demoStock
	}
	local, err := choreography.NewLocal(ctx, log, choreography.Options{
		Stock:   stock,
		Charger: gateway.NewSimulated(cfg.Payment.SuccessProbability),
		Policy: domain.RetryPolicy{
			MaxAttempts: cfg.Payment.MaxAttempts,
			BaseDelay:   cfg.Payment.BaseDelay,
			MaxDelay:    cfg.Payment.MaxDelay,
		},
		ClaimTTL: cfg.Payment.ClaimTTL,
		Notifier: logsink.New(log),
	})
	if err != nil {
		log.Error("wiring failed", "err", err)
		os.Exit(1)
	}

	if *serve {
		if err := runServer(ctx, cfg, local); err != nil {
			log.Error("server stopped", "err", err)
			os.Exit(1)
		}
		return
	}

	var ids []string
	for _, d := range demoOrders {
		o, err := local.Orders.CreateOrder(ctx, d.customer, d.items, decimal.RequireFromString(d.total))
		if err != nil {
			log.Error("create demo order", "err", err)
			os.Exit(1)
		}
		ids = append(ids, o.ID)
	}
	if err := local.Pump(ctx); err != nil {
		log.Error("pump failed", "err", err)
		os.Exit(1)
	}
	if err := report(ctx, local, ids, stock); err != nil {
		log.Error("report failed", "err", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg config.Config, local *choreography.Local) error {
	log := logging.New(cfg.LogLevel)
	bus := messaging.NewBus(log, messaging.DefaultRedelivery)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      orderhttp.NewHandler(log, local.Orders).Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = local.Run(ctx, bus, outbox.WithInterval(cfg.OutboxInterval), outbox.WithBatchSize(cfg.OutboxBatchSize))
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err == nil {
		<-done
	}
	return err
}

func report(ctx context.Context, local *choreography.Local, ids []string, stock map[string]int) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tCUSTOMER\tSTATUS\tREASON")
	for _, id := range ids {
		o, err := local.Orders.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.ID, o.CustomerID, o.Status, o.CancelReason)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PRODUCT\tAVAILABLE")
	products := make([]string, 0, len(stock))
	for id := range stock {
		products = append(products, id)
	}
	sort.Strings(products)
	for _, id := range products {
		n, err := local.Inventory.Available(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\n", id, n)
	}
	return w.Flush()
}
