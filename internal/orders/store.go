package orders

import (
	"context"
	"time"
)

// Store is the shared state behind the engine. Every read and write goes
// through a Tx obtained from Begin; the Coordinator is the only caller.
type Store interface {
	// Begin opens a read-committed transaction whose row-lock waits give
	// up after lockTimeout (zero waits indefinitely).
	Begin(ctx context.Context, lockTimeout time.Duration) (Tx, error)
	Ping(ctx context.Context) error
}

// Tx is one unit of work. Lock methods block until the row lock is granted
// and hold it until Commit or Rollback; a wait that outlives the lock
// timeout fails with ErrLockTimeout. Rollback after Commit is a no-op.
type Tx interface {
	LockOrder(ctx context.Context, orderID string) (Order, error)
	LockStock(ctx context.Context, sku string) error

	InsertProduct(ctx context.Context, p *Product) error
	ProductBySKU(ctx context.Context, sku string) (Product, error)

	Stock(ctx context.Context, sku string) (Stock, error)
	SetStock(ctx context.Context, productID int64, qty int, at time.Time) error
	AppendMovement(ctx context.Context, m *StockMovement) error
	Movements(ctx context.Context, sku string, limit int) ([]StockMovement, error)

	InsertOrder(ctx context.Context, o Order, items []OrderItem) error
	Order(ctx context.Context, orderID string) (Order, error)
	Items(ctx context.Context, orderID string) ([]OrderItem, error)
	SetOrderStatus(ctx context.Context, orderID string, status Status, at time.Time) error

	InsertReservation(ctx context.Context, r Reservation) error
	Reservation(ctx context.Context, id string) (Reservation, error)
	ReleaseReservation(ctx context.Context, id string, at time.Time) error
	Reservations(ctx context.Context, orderID string, activeOnly bool) ([]Reservation, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
