package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/stockd/internal/orders"
)

// Store implements orders.Store on Postgres. Row locks are SELECT ... FOR
// UPDATE under READ COMMITTED, so a locked read always sees the latest
// committed quantity.
type Store struct{ DB *pgxpool.Pool }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

func (s *Store) Begin(ctx context.Context, lockTimeout time.Duration) (orders.Tx, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	if lockTimeout > 0 {
		// set_config(..., true) == SET LOCAL, berlaku sampai commit/rollback
		ms := fmt.Sprintf("%dms", lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Commit(ctx context.Context) error { return mapErr(t.tx.Commit(ctx)) }

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID string) (orders.Order, error) {
	var o orders.Order
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, status, created_at, updated_at
		FROM orders WHERE id = $1::uuid
		FOR UPDATE`, orderID).Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	return o, mapErr(err)
}

func (t *pgTx) LockStock(ctx context.Context, sku string) error {
	var pid int64
	err := t.tx.QueryRow(ctx, `
		SELECT s.product_id
		FROM stock s JOIN products p ON p.id = s.product_id
		WHERE p.sku = $1
		FOR UPDATE OF s`, sku).Scan(&pid)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: sku %s", orders.ErrNotFound, sku)
	}
	return mapErr(err)
}

func (t *pgTx) InsertProduct(ctx context.Context, p *orders.Product) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO products (sku, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`, p.SKU, p.Name, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", orders.ErrDuplicateSKU, p.SKU)
		}
		return mapErr(err)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO stock (product_id, quantity, updated_at) VALUES ($1, 0, $2)`, p.ID, p.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) ProductBySKU(ctx context.Context, sku string) (orders.Product, error) {
	var p orders.Product
	err := t.tx.QueryRow(ctx, `SELECT id, sku, name, created_at FROM products WHERE sku = $1`, sku).
		Scan(&p.ID, &p.SKU, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("%w: sku %s", orders.ErrNotFound, sku)
	}
	return p, mapErr(err)
}

func (t *pgTx) Stock(ctx context.Context, sku string) (orders.Stock, error) {
	var st orders.Stock
	err := t.tx.QueryRow(ctx, `
		SELECT s.product_id, p.sku, s.quantity, s.updated_at
		FROM stock s JOIN products p ON p.id = s.product_id
		WHERE p.sku = $1`, sku).Scan(&st.ProductID, &st.SKU, &st.Quantity, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, fmt.Errorf("%w: sku %s", orders.ErrNotFound, sku)
	}
	return st, mapErr(err)
}

func (t *pgTx) SetStock(ctx context.Context, productID int64, qty int, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE stock SET quantity = $2, updated_at = $3 WHERE product_id = $1`, productID, qty, at)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: stock row for product %d", orders.ErrNotFound, productID)
	}
	return nil
}

func (t *pgTx) AppendMovement(ctx context.Context, m *orders.StockMovement) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, delta, reason, order_id, note, created_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6)
		RETURNING id`, m.ProductID, m.Delta, string(m.Reason), m.OrderID, m.Note, m.CreatedAt).Scan(&m.ID)
	return mapErr(err)
}

func (t *pgTx) Movements(ctx context.Context, sku string, limit int) ([]orders.StockMovement, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT m.id, m.product_id, p.sku, m.delta, m.reason, COALESCE(m.order_id::text, ''), m.note, m.created_at
		FROM stock_movements m JOIN products p ON p.id = m.product_id
		WHERE p.sku = $1
		ORDER BY m.id DESC
		LIMIT $2`, sku, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []orders.StockMovement
	for rows.Next() {
		var m orders.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.SKU, &m.Delta, &m.Reason, &m.OrderID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertOrder(ctx context.Context, o orders.Order, items []orders.OrderItem) error {
	b := &pgx.Batch{}
	b.Queue(`INSERT INTO orders (id, status, created_at, updated_at) VALUES ($1::uuid, $2, $3, $4)`,
		o.ID, string(o.Status), o.CreatedAt, o.UpdatedAt)
	for _, it := range items {
		b.Queue(`INSERT INTO order_items (order_id, sku, qty) VALUES ($1::uuid, $2, $3)`, o.ID, it.SKU, it.Qty)
	}
	return mapErr(t.tx.SendBatch(ctx, b).Close())
}

func (t *pgTx) Order(ctx context.Context, orderID string) (orders.Order, error) {
	var o orders.Order
	err := t.tx.QueryRow(ctx, `SELECT id::text, status, created_at, updated_at FROM orders WHERE id = $1::uuid`, orderID).
		Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	return o, mapErr(err)
}

func (t *pgTx) Items(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	rows, err := t.tx.Query(ctx, `SELECT sku, qty FROM order_items WHERE order_id = $1::uuid ORDER BY id`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		it := orders.OrderItem{OrderID: orderID}
		if err := rows.Scan(&it.SKU, &it.Qty); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1::uuid`, orderID, string(status), at)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	return nil
}

func (t *pgTx) InsertReservation(ctx context.Context, r orders.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations (id, order_id, sku, qty, active, created_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, TRUE, $5)`, r.ID, r.OrderID, r.SKU, r.Qty, r.CreatedAt)
	return mapErr(err)
}

const reservationCols = `id::text, order_id::text, sku, qty, active, created_at, released_at`

func scanReservation(row pgx.Row) (orders.Reservation, error) {
	var r orders.Reservation
	err := row.Scan(&r.ID, &r.OrderID, &r.SKU, &r.Qty, &r.Active, &r.CreatedAt, &r.ReleasedAt)
	return r, err
}

func (t *pgTx) Reservation(ctx context.Context, id string) (orders.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("%w: reservation %s", orders.ErrNotFound, id)
	}
	return r, mapErr(err)
}

func (t *pgTx) ReleaseReservation(ctx context.Context, id string, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE reservations SET active = FALSE, released_at = $2
		WHERE id = $1::uuid AND active`, id, at)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", orders.ErrAlreadyReleased, id)
	}
	return nil
}

func (t *pgTx) Reservations(ctx context.Context, orderID string, activeOnly bool) ([]orders.Reservation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+reservationCols+`
		FROM reservations
		WHERE order_id = $1::uuid AND (active OR NOT $2)
		ORDER BY created_at, id`, orderID, activeOnly)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []orders.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SQLSTATE codes the engine translates.
const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
)

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlock:
		return fmt.Errorf("%w: %s", orders.ErrLockTimeout, pgErr.Message)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
