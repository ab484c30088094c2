package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-saga/internal/inventory/domain"
	"github.com/dmehra2102/order-saga/internal/testenv"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
)

func noEvents(domain.Result) ([]events.Envelope, error) { return nil, nil }

func TestRepositoryReserveAndRelease(t *testing.T) {
	pool := testenv.Postgres(t, outbox.Schema, Schema)
	ctx := context.Background()
	repo := NewRepository(slog.New(slog.DiscardHandler), pool)
	require.NoError(t, repo.Seed(ctx, map[string]int{"P1": 10, "P2": 5, "P3": 0}))

	emit := func(res domain.Result) ([]events.Envelope, error) {
		env, err := events.New(events.InventoryReserved, "o-1", events.InventoryReservedPayload{OrderID: "o-1"}, time.Now())
		return []events.Envelope{env}, err
	}
	res, err := repo.Reserve(ctx, "o-1", []domain.Line{{"P1", 2}, {"P2", 1}}, emit)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReserved, res.Outcome)

	res, err = repo.Reserve(ctx, "o-1", []domain.Line{{"P1", 2}, {"P2", 1}}, emit)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, res.Outcome)

	p1, _ := repo.Available(ctx, "P1")
	p2, _ := repo.Available(ctx, "P2")
	assert.Equal(t, []int{8, 4}, []int{p1, p2})

	var rows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE aggregate_id='o-1'`).Scan(&rows))
	assert.Equal(t, 1, rows)

	rel, err := repo.Release(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Released, rel)
	rel, err = repo.Release(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NoRelease, rel)

	p1, _ = repo.Available(ctx, "P1")
	p2, _ = repo.Available(ctx, "P2")
	assert.Equal(t, []int{10, 5}, []int{p1, p2})
}

func TestRepositoryShortfallRollsBackNothing(t *testing.T) {
	pool := testenv.Postgres(t, outbox.Schema, Schema)
	ctx := context.Background()
	repo := NewRepository(slog.New(slog.DiscardHandler), pool)
	require.NoError(t, repo.Seed(ctx, map[string]int{"P1": 10, "P3": 0}))

	res, err := repo.Reserve(ctx, "o-2", []domain.Line{{"P1", 1}, {"P3", 1}}, noEvents)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnavailable, res.Outcome)
	p1, _ := repo.Available(ctx, "P1")
	assert.Equal(t, 10, p1)

	rel, err := repo.Release(ctx, "o-2")
	require.NoError(t, err)
	assert.Equal(t, domain.NoRelease, rel)
}

func TestRepositoryConcurrentReservations(t *testing.T) {
	pool := testenv.Postgres(t, outbox.Schema, Schema)
	ctx := context.Background()
	repo := NewRepository(slog.New(slog.DiscardHandler), pool)
	require.NoError(t, repo.Seed(ctx, map[string]int{"P1": 5, "P2": 5}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Opposite line orders exercise the lock ordering.
			lines := []domain.Line{{"P1", 1}, {"P2", 1}}
			if i%2 == 1 {
				lines = []domain.Line{{"P2", 1}, {"P1", 1}}
			}
			res, err := repo.Reserve(ctx, fmt.Sprintf("o-%d", i), lines, noEvents)
			if !assert.NoError(t, err) {
				return
			}
			if res.Outcome == domain.OutcomeReserved {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, reserved)
	p1, _ := repo.Available(ctx, "P1")
	p2, _ := repo.Available(ctx, "P2")
	assert.Equal(t, []int{0, 0}, []int{p1, p2})
}
