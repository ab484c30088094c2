package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

const aggregateType = "order"

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id            TEXT           PRIMARY KEY,
	customer_id   TEXT           NOT NULL,
	total_amount  NUMERIC(18, 2) NOT NULL CHECK (total_amount >= 0),
	status        TEXT           NOT NULL,
	cancel_reason TEXT           NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ    NOT NULL,
	updated_at    TIMESTAMPTZ    NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_created_idx ON orders (created_at DESC);
CREATE TABLE IF NOT EXISTS order_items (
	order_id   TEXT NOT NULL REFERENCES orders (id),
	line       INT  NOT NULL,
	product_id TEXT NOT NULL,
	quantity   INT  NOT NULL CHECK (quantity > 0),
	PRIMARY KEY (order_id, line)
);
`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

var _ application.OrderRepository = (*Repository)(nil)

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

func (r *Repository) Create(ctx context.Context, o domain.Order, envs []events.Envelope) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders (id, customer_id, total_amount, status, cancel_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.ID, o.CustomerID, o.TotalAmount, o.Status, o.CancelReason, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, line, product_id, quantity) VALUES ($1,$2,$3,$4)`,
			o.ID, i, item.ProductID, item.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}

	if err := insertOutbox(ctx, tx, envs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Update(ctx context.Context, id string, apply func(o *domain.Order) ([]events.Envelope, error)) (domain.Order, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	o, err := scanOrder(tx.QueryRow(ctx, selectOrder+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.Order{}, false, err
	}
	before := o.Status

	envs, err := apply(&o)
	if err != nil {
		return domain.Order{}, false, err
	}
	if o.Status == before {
		return o, false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, cancel_reason=$3, updated_at=$4 WHERE id=$1`,
		o.ID, o.Status, o.CancelReason, o.UpdatedAt); err != nil {
		return domain.Order{}, false, fmt.Errorf("update order: %w", err)
	}
	if err := insertOutbox(ctx, tx, envs); err != nil {
		return domain.Order{}, false, err
	}
	return o, true, tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, selectOrder+` WHERE id=$1`, id))
	if err != nil {
		return domain.Order{}, err
	}
	items, err := r.items(ctx, []string{id})
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	// LIMIT NULL is LIMIT ALL
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx, selectOrder+` ORDER BY created_at DESC, id LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *Repository) items(ctx context.Context, ids []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT order_id, product_id, quantity FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.OrderItem, len(ids))
	for rows.Next() {
		var id string
		var item domain.OrderItem
		if err := rows.Scan(&id, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		out[id] = append(out[id], item)
	}
	return out, rows.Err()
}

const selectOrder = `SELECT id, customer_id, total_amount, status, cancel_reason, created_at, updated_at FROM orders`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.TotalAmount, &o.Status, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, err
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
