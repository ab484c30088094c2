package postgres

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/dmehra2102/order-saga/internal/testenv"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
)

func processed(p domain.Payment) ([]events.Envelope, error) {
	env, err := events.New(events.PaymentProcessed, p.OrderID, events.PaymentProcessedPayload{OrderID: p.OrderID, PaymentID: p.ID, Amount: p.Amount}, time.Now())
	return []events.Envelope{env}, err
}

func failed(f domain.Failure) ([]events.Envelope, error) {
	env, err := events.New(events.PaymentFailed, f.OrderID, events.PaymentFailedPayload{OrderID: f.OrderID, Reason: f.Reason}, time.Now())
	return []events.Envelope{env}, err
}

func outboxTypes(t *testing.T, repo *Repository, orderID string) []string {
	t.Helper()
	rows, err := repo.pool.Query(context.Background(), `SELECT type FROM outbox WHERE aggregate_id=$1 ORDER BY id`, orderID)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	return out
}

func TestPaymentRecordIsUniquePerOrder(t *testing.T) {
	pool := testenv.Postgres(t, outbox.Schema, Schema)
	repo := NewRepository(slog.New(slog.DiscardHandler), pool)
	ctx := context.Background()

	first := domain.Payment{ID: "pay-1", OrderID: "o-1", Amount: decimal.RequireFromString("12.50"), Attempts: 1, CreatedAt: time.Now().UTC()}
	stored, inserted, err := repo.SaveProcessed(ctx, first, processed)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "pay-1", stored.ID)

	second := first
	second.ID = "pay-2"
	stored, inserted, err = repo.SaveProcessed(ctx, second, processed)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "pay-1", stored.ID)
	assert.True(t, stored.Amount.Equal(first.Amount))

	got, err := repo.Find(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, got.Payment)
	assert.Nil(t, got.Failure)

	_, err = repo.SaveFailed(ctx, domain.Failure{OrderID: "o-1", Reason: "x", CreatedAt: time.Now()}, failed)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	assert.Equal(t, []string{"payment-processed", "payment-processed"}, outboxTypes(t, repo, "o-1"))
}

func TestFailureRecordedOnce(t *testing.T) {
	pool := testenv.Postgres(t, outbox.Schema, Schema)
	repo := NewRepository(slog.New(slog.DiscardHandler), pool)
	ctx := context.Background()

	f := domain.Failure{OrderID: "o-2", Reason: "Payment Failed after 3 attempts", Attempts: 3, CreatedAt: time.Now().UTC()}
	inserted, err := repo.SaveFailed(ctx, f, failed)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = repo.SaveFailed(ctx, f, failed)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.Find(ctx, "o-2")
	require.NoError(t, err)
	require.NotNil(t, got.Failure)
	assert.Equal(t, 3, got.Failure.Attempts)
	assert.Equal(t, []string{"payment-failed"}, outboxTypes(t, repo, "o-2"))
}
