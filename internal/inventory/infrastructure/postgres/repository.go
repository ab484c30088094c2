package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/order-saga/internal/inventory/application"
	"github.com/dmehra2102/order-saga/internal/inventory/domain"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

const aggregateType = "inventory"

const Schema = `
CREATE TABLE IF NOT EXISTS inventory (
	product_id TEXT        PRIMARY KEY,
	available  INT         NOT NULL CHECK (available >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS inventory_orders (
	order_id   TEXT        PRIMARY KEY,
	state      TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS inventory_reservation_lines (
	order_id   TEXT NOT NULL REFERENCES inventory_orders (order_id),
	product_id TEXT NOT NULL,
	quantity   INT  NOT NULL CHECK (quantity > 0),
	PRIMARY KEY (order_id, product_id)
);
`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

var _ application.StockRepository = (*Repository)(nil)

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{
		log:  log,
		pool: pool,
	}
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{outbox.Schema, Schema} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Reserve(ctx context.Context, orderID string, lines []domain.Line, emit application.Emitter) (domain.Result, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Result{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// A concurrent duplicate blocks here until the first attempt commits,
	// then sees the conflict.
	ct, err := tx.Exec(ctx, `INSERT INTO inventory_orders (order_id, state) VALUES ($1, $2) ON CONFLICT (order_id) DO NOTHING`,
		orderID, domain.StatePending)
	if err != nil {
		return domain.Result{}, fmt.Errorf("claim marker: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.Result{Outcome: domain.OutcomeDuplicate}, nil
	}

	available, err := lockStock(ctx, tx, domain.ProductIDs(lines))
	if err != nil {
		return domain.Result{}, err
	}

	res := domain.Result{Outcome: domain.OutcomeReserved, Shortfall: domain.Check(available, lines)}
	state := domain.StateReserved
	if len(res.Shortfall) > 0 {
		res.Outcome = domain.OutcomeUnavailable
		state = domain.StateRejected
	} else {
		for _, l := range lines {
			if err := adjust(ctx, tx, l.ProductID, -l.Quantity); err != nil {
				return domain.Result{}, err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO inventory_reservation_lines (order_id, product_id, quantity) VALUES ($1,$2,$3)`,
				orderID, l.ProductID, l.Quantity); err != nil {
				return domain.Result{}, fmt.Errorf("insert reservation line: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE inventory_orders SET state=$2, updated_at=now() WHERE order_id=$1`, orderID, state); err != nil {
		return domain.Result{}, fmt.Errorf("update marker: %w", err)
	}
	if err := r.writeOutbox(ctx, tx, res, emit); err != nil {
		return domain.Result{}, err
	}
	return res, tx.Commit(ctx)
}

func (r *Repository) Release(ctx context.Context, orderID string) (domain.Release, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `INSERT INTO inventory_orders (order_id, state) VALUES ($1, $2) ON CONFLICT (order_id) DO NOTHING`,
		orderID, domain.StateCancelled)
	if err != nil {
		return "", fmt.Errorf("tombstone marker: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return domain.Tombstoned, tx.Commit(ctx)
	}

	var state domain.State
	if err := tx.QueryRow(ctx, `SELECT state FROM inventory_orders WHERE order_id=$1 FOR UPDATE`, orderID).Scan(&state); err != nil {
		return "", fmt.Errorf("lock marker: %w", err)
	}
	if state != domain.StateReserved {
		return domain.NoRelease, nil
	}

	rows, err := tx.Query(ctx, `SELECT product_id, quantity FROM inventory_reservation_lines WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return "", err
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Line, error) {
		var l domain.Line
		err := row.Scan(&l.ProductID, &l.Quantity)
		return l, err
	})
	if err != nil {
		return "", fmt.Errorf("read reservation lines: %w", err)
	}
	for _, l := range lines {
		if err := adjust(ctx, tx, l.ProductID, l.Quantity); err != nil {
			return "", err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE inventory_orders SET state=$2, updated_at=now() WHERE order_id=$1`, orderID, domain.StateReleased); err != nil {
		return "", fmt.Errorf("update marker: %w", err)
	}
	return domain.Released, tx.Commit(ctx)
}

func (r *Repository) Available(ctx context.Context, productID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT available FROM inventory WHERE product_id=$1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Seed inserts missing products; existing stock levels are left alone.
func (r *Repository) Seed(ctx context.Context, stock map[string]int) error {
	batch := &pgx.Batch{}
	for id, qty := range stock {
		batch.Queue(`INSERT INTO inventory (product_id, available) VALUES ($1,$2) ON CONFLICT (product_id) DO NOTHING`, id, qty)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

func (r *Repository) writeOutbox(ctx context.Context, tx pgx.Tx, res domain.Result, emit application.Emitter) error {
	envs, err := emit(res)
	if err != nil {
		return err
	}
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

// lockStock locks the product rows in id order so concurrent reservations
// over overlapping products cannot deadlock.
func lockStock(ctx context.Context, tx pgx.Tx, ids []string) (map[string]int, error) {
	rows, err := tx.Query(ctx, `SELECT product_id, available FROM inventory WHERE product_id = ANY($1) ORDER BY product_id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	defer rows.Close()

	available := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		available[id] = n
	}
	return available, rows.Err()
}

// adjust is the single stock mutation. It refuses to take a row below zero.
func adjust(ctx context.Context, tx pgx.Tx, productID string, delta int) error {
	ct, err := tx.Exec(ctx, `UPDATE inventory SET available = available + $2, updated_at = now() WHERE product_id = $1 AND available + $2 >= 0`,
		productID, delta)
	if err != nil {
		return fmt.Errorf("adjust %s: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("adjust %s by %d: %w", productID, delta, domain.ErrInsufficientStock)
	}
	return nil
}
