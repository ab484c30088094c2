package application_test

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-saga/internal/inventory/application"
	"github.com/dmehra2102/order-saga/internal/inventory/domain"
	"github.com/dmehra2102/order-saga/internal/inventory/infrastructure/memory"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
)

type fixture struct {
	svc  *application.Service
	repo *memory.Repository
	out  *outbox.MemoryStore
}

func newFixture(t *testing.T, stock map[string]int) fixture {
	t.Helper()
	out := outbox.NewMemoryStore()
	repo := memory.NewRepository(out)
	require.NoError(t, repo.Seed(context.Background(), stock))
	return fixture{svc: application.NewService(slog.New(slog.DiscardHandler), repo), repo: repo, out: out}
}

func (f fixture) available(t *testing.T, id string) int {
	t.Helper()
	n, err := f.svc.Available(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (f fixture) emitted(t *testing.T) []events.Envelope {
	t.Helper()
	var out []events.Envelope
	for _, ev := range f.out.Pending() {
		env, err := events.Unmarshal(ev.Payload)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func TestReserveTakesAllLines(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 10, "P2": 5})
	ctx := context.Background()

	outcome, err := f.svc.Reserve(ctx, "o-1", []events.Item{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 1}}, decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReserved, outcome)
	assert.Equal(t, 8, f.available(t, "P1"))
	assert.Equal(t, 4, f.available(t, "P2"))

	emitted := f.emitted(t)
	require.Len(t, emitted, 1)
	assert.Equal(t, events.InventoryReserved, emitted[0].Type)
	p, err := events.Decode[events.InventoryReservedPayload](emitted[0])
	require.NoError(t, err)
	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(30)))
	assert.Len(t, p.Items, 2)
}

func TestReserveShortfallLeavesStockUntouched(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 10, "P3": 0})

	outcome, err := f.svc.Reserve(context.Background(), "o-2", []events.Item{{ProductID: "P1", Quantity: 1}, {ProductID: "P3", Quantity: 1}}, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnavailable, outcome)
	assert.Equal(t, 10, f.available(t, "P1"))
	assert.Equal(t, 0, f.available(t, "P3"))

	emitted := f.emitted(t)
	require.Len(t, emitted, 1)
	assert.Equal(t, events.InventoryUnavailable, emitted[0].Type)
	p, err := events.Decode[events.InventoryUnavailablePayload](emitted[0])
	require.NoError(t, err)
	assert.Contains(t, p.Reason, "Inventory Unavailable")
	assert.Equal(t, []events.Shortfall{{ProductID: "P3", Requested: 1, Available: 0}}, p.Shortfall)
}

func TestReserveIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 10})
	items := []events.Item{{ProductID: "P1", Quantity: 3}}

	for i := 0; i < 3; i++ {
		_, err := f.svc.Reserve(context.Background(), "o-1", items, decimal.Zero)
		require.NoError(t, err)
	}
	assert.Equal(t, 7, f.available(t, "P1"))
	assert.Len(t, f.emitted(t), 1)
}

func TestReserveRejectsMalformedItems(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Reserve(context.Background(), "o-1", nil, decimal.Zero)
	assert.ErrorIs(t, err, events.ErrMalformed)
	_, err = f.svc.Reserve(context.Background(), "o-1", []events.Item{{ProductID: "P1", Quantity: 0}}, decimal.Zero)
	assert.ErrorIs(t, err, events.ErrMalformed)
}

func TestReserveRejectsOverflowingLines(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 10})
	items := []events.Item{{ProductID: "P1", Quantity: math.MaxInt}, {ProductID: "P1", Quantity: 12}}

	_, err := f.svc.Reserve(context.Background(), "o-1", items, decimal.Zero)
	assert.ErrorIs(t, err, events.ErrMalformed)
	assert.Equal(t, 10, f.available(t, "P1"))
	assert.Empty(t, f.emitted(t))
	_, marked := f.repo.Marker("o-1")
	assert.False(t, marked)
}

func TestCompensateReleasesOnce(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 10, "P2": 5})
	ctx := context.Background()
	_, err := f.svc.Reserve(ctx, "o-1", []events.Item{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 5}}, decimal.Zero)
	require.NoError(t, err)

	rel, err := f.svc.Compensate(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Released, rel)

	rel, err = f.svc.Compensate(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NoRelease, rel)

	assert.Equal(t, 10, f.available(t, "P1"))
	assert.Equal(t, 5, f.available(t, "P2"))
	state, _ := f.repo.Marker("o-1")
	assert.Equal(t, domain.StateReleased, state)
}

func TestCompensateRejectedOrderIsNoop(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 1})
	ctx := context.Background()
	_, err := f.svc.Reserve(ctx, "o-1", []events.Item{{ProductID: "P1", Quantity: 2}}, decimal.Zero)
	require.NoError(t, err)

	rel, err := f.svc.Compensate(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NoRelease, rel)
	assert.Equal(t, 1, f.available(t, "P1"))
}

func TestCancelBeforeCreateBlocksReservation(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 5})
	ctx := context.Background()

	rel, err := f.svc.Compensate(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Tombstoned, rel)

	outcome, err := f.svc.Reserve(ctx, "o-1", []events.Item{{ProductID: "P1", Quantity: 1}}, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, 5, f.available(t, "P1"))
	assert.Empty(t, f.emitted(t))
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 10})

	var wg sync.WaitGroup
	results := make([]domain.Outcome, 40)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("o-%d", i)
			out, err := f.svc.Reserve(context.Background(), id, []events.Item{{ProductID: "P1", Quantity: 1}}, decimal.Zero)
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	reserved := 0
	for _, o := range results {
		if o == domain.OutcomeReserved {
			reserved++
		}
	}
	assert.Equal(t, 10, reserved)
	assert.Equal(t, 0, f.available(t, "P1"))
}

func TestRoutesDispatch(t *testing.T) {
	f := newFixture(t, map[string]int{"P1": 4})
	router, err := events.NewRouter(f.svc.Routes()...)
	require.NoError(t, err)
	assert.ElementsMatch(t, events.ConsumedBy(events.ServiceInventory), router.Consumes())

	created, err := events.New(events.OrderCreated, "o-1", events.OrderCreatedPayload{
		OrderID: "o-1", CustomerID: "c-1", Items: []events.Item{{ProductID: "P1", Quantity: 4}}, TotalAmount: decimal.NewFromInt(8),
	}, time.Now())
	require.NoError(t, err)
	_, err = router.Dispatch(context.Background(), created)
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, "P1"))

	cancelled, err := events.New(events.OrderCancelled, "o-1", events.OrderCancelledPayload{OrderID: "o-1", Reason: "Payment Failed"}, time.Now())
	require.NoError(t, err)
	_, err = router.Dispatch(context.Background(), cancelled)
	require.NoError(t, err)
	assert.Equal(t, 4, f.available(t, "P1"))
}
