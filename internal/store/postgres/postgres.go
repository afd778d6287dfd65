package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/kds/internal/clock"
	"github.com/kiwari-pos/kds/internal/order"
	"github.com/kiwari-pos/kds/internal/store"
)

const orderColumns = `id, venue_id, table_number, items, status, version, created_at, updated_at, updated_by, updated_by_name`

// Store is a VersionStore backed by PostgreSQL. Write runs the version check,
// the mutation and the increment inside one transaction holding a row lock.
type Store struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool, clk clock.Clock) *Store {
	return &Store{pool: pool, clock: clk}
}

// Create inserts a new order in status new at version 0.
func (s *Store) Create(ctx context.Context, o order.Order) (order.Order, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.clock.Now()
	}
	items, err := json.Marshal(itemsOrEmpty(o.Items))
	if err != nil {
		return order.Order{}, fmt.Errorf("marshal items: %w", err)
	}

	const query = `
		INSERT INTO orders (id, venue_id, table_number, items, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'new', 0, $5, $5)
		RETURNING ` + orderColumns
	created, err := scanOrder(s.pool.QueryRow(ctx, query, o.ID, o.VenueID, o.TableNumber, items, o.CreatedAt))
	if err != nil {
		return order.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return created, nil
}

func (s *Store) Read(ctx context.Context, id uuid.UUID) (order.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, store.ErrNotFound
		}
		return order.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *Store) List(ctx context.Context, venueID uuid.UUID, f store.Filter) ([]order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE venue_id = $1`
	args := []any{venueID}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if !f.CreatedSince.IsZero() {
		args = append(args, f.CreatedSince)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := make([]order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func (s *Store) Write(ctx context.Context, id uuid.UUID, expectedVersion int64, actor order.Actor, mutate store.Mutation) (store.WriteResult, error) {
	var result store.WriteResult
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		const selectQuery = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
		current, err := scanOrder(tx.QueryRow(ctx, selectQuery, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		if current.Version != expectedVersion {
			result = store.WriteResult{Applied: false, Order: current}
			return nil
		}

		next := current
		if err := mutate(&next); err != nil {
			return err
		}

		const updateQuery = `
			UPDATE orders
			SET status = $3, version = version + 1, updated_at = $4, updated_by = $5, updated_by_name = $6
			WHERE id = $1 AND version = $2
			RETURNING ` + orderColumns
		updated, err := scanOrder(tx.QueryRow(ctx, updateQuery,
			id, expectedVersion, string(next.Status), s.clock.Now(), actor.ID, actor.Name))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		result = store.WriteResult{Applied: true, Order: updated}
		return nil
	})
	if err != nil {
		return store.WriteResult{}, err
	}
	return result, nil
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (order.Order, error) {
	var (
		o      order.Order
		items  []byte
		status string
	)
	if err := row.Scan(&o.ID, &o.VenueID, &o.TableNumber, &items, &status, &o.Version,
		&o.CreatedAt, &o.UpdatedAt, &o.UpdatedBy, &o.UpdatedByName); err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("decode items: %w", err)
	}
	o.Status = order.Status(status)
	return o, nil
}

func itemsOrEmpty(items []order.Item) []order.Item {
	if items == nil {
		return []order.Item{}
	}
	return items
}
