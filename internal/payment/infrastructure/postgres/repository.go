package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/order-saga/internal/payment/application"
	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

const aggregateType = "payment"

// Schema keys payments by order id; the primary key is what makes a
// second settlement for the same order impossible.
const Schema = `
CREATE TABLE IF NOT EXISTS payments (
	order_id   TEXT           PRIMARY KEY,
	payment_id TEXT           NOT NULL UNIQUE,
	amount     NUMERIC(18, 2) NOT NULL CHECK (amount >= 0),
	attempts   INT            NOT NULL,
	created_at TIMESTAMPTZ    NOT NULL
);
CREATE TABLE IF NOT EXISTS payment_failures (
	order_id   TEXT        PRIMARY KEY,
	reason     TEXT        NOT NULL,
	attempts   INT         NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

var _ application.PaymentRepository = (*Repository)(nil)

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{outbox.Schema, Schema} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Find(ctx context.Context, orderID string) (domain.Settlement, error) {
	p, err := findPayment(ctx, r.pool, orderID)
	if err != nil {
		return domain.Settlement{}, err
	}
	if p != nil {
		return domain.Settlement{Payment: p}, nil
	}

	var f domain.Failure
	err = r.pool.QueryRow(ctx, `SELECT order_id, reason, attempts, created_at FROM payment_failures WHERE order_id=$1`, orderID).
		Scan(&f.OrderID, &f.Reason, &f.Attempts, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Settlement{}, nil
	}
	if err != nil {
		return domain.Settlement{}, err
	}
	return domain.Settlement{Failure: &f}, nil
}

func (r *Repository) SaveProcessed(ctx context.Context, p domain.Payment, emit func(domain.Payment) ([]events.Envelope, error)) (domain.Payment, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Payment{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `INSERT INTO payments (order_id, payment_id, amount, attempts, created_at) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (order_id) DO NOTHING`,
		p.OrderID, p.ID, p.Amount, p.Attempts, p.CreatedAt)
	if err != nil {
		return domain.Payment{}, false, fmt.Errorf("insert payment: %w", err)
	}
	inserted := ct.RowsAffected() == 1
	stored := p
	if !inserted {
		existing, err := findPayment(ctx, tx, p.OrderID)
		if err != nil {
			return domain.Payment{}, false, err
		}
		if existing == nil {
			return domain.Payment{}, false, fmt.Errorf("payment for %s vanished after conflict", p.OrderID)
		}
		stored = *existing
	}

	envs, err := emit(stored)
	if err != nil {
		return domain.Payment{}, false, err
	}
	if err := insertOutbox(ctx, tx, envs); err != nil {
		return domain.Payment{}, false, err
	}
	return stored, inserted, tx.Commit(ctx)
}

func (r *Repository) SaveFailed(ctx context.Context, f domain.Failure, emit func(domain.Failure) ([]events.Envelope, error)) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	existing, err := findPayment(ctx, tx, f.OrderID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, domain.ErrAlreadySettled
	}

	ct, err := tx.Exec(ctx, `INSERT INTO payment_failures (order_id, reason, attempts, created_at) VALUES ($1,$2,$3,$4)
		ON CONFLICT (order_id) DO NOTHING`,
		f.OrderID, f.Reason, f.Attempts, f.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert payment failure: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	envs, err := emit(f)
	if err != nil {
		return false, err
	}
	if err := insertOutbox(ctx, tx, envs); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) Emit(ctx context.Context, envs ...events.Envelope) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := insertOutbox(ctx, tx, envs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findPayment(ctx context.Context, q querier, orderID string) (*domain.Payment, error) {
	var p domain.Payment
	err := q.QueryRow(ctx, `SELECT payment_id, order_id, amount, attempts, created_at FROM payments WHERE order_id=$1`, orderID).
		Scan(&p.ID, &p.OrderID, &p.Amount, &p.Attempts, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &p, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, envs []events.Envelope) error {
	tp := tracing.Traceparent(ctx)
	for _, env := range envs {
		ev, err := outbox.FromEnvelope(aggregateType, env, tp)
		if err != nil {
			return err
		}
		if err := outbox.Insert(ctx, tx, ev); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
	}
	return nil
}
