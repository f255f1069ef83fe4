package orders

import (
	"context"
	"fmt"
	"time"
)

// Ledger is the only writer of stock quantities. Each change is paired
// with a StockMovement in the same transaction.
type Ledger struct {
	Now func() time.Time
}

// MovementRef ties a movement to the order or note that caused it.
type MovementRef struct {
	OrderID string
	Note    string
}

// Stock reads the stock row of sku without locking it.
func (l Ledger) Stock(ctx context.Context, tx Tx, sku string) (Stock, error) {
	return tx.Stock(ctx, sku)
}

func (l Ledger) Quantity(ctx context.Context, tx Tx, sku string) (int, error) {
	st, err := l.Stock(ctx, tx, sku)
	if err != nil {
		return 0, err
	}
	return st.Quantity, nil
}

// Adjust applies delta to sku's stock. The unit must already hold the stock
// lock, so the check runs against the freshest committed value.
func (l Ledger) Adjust(ctx context.Context, u *Unit, sku string, delta int, reason MovementReason, ref MovementRef) (int, error) {
	if !u.Holds(sku) {
		return 0, fmt.Errorf("orders: adjust %s without holding its stock lock", sku)
	}
	if !reason.Valid() {
		return 0, fmt.Errorf("orders: unknown movement reason %q", reason)
	}
	if delta > MaxQuantity || delta < -MaxQuantity {
		return 0, fmt.Errorf("%w: delta %d is outside [-%d, %d]", ErrInvalidQuantity, delta, MaxQuantity, MaxQuantity)
	}
	st, err := l.Stock(ctx, u, sku)
	if err != nil {
		return 0, err
	}
	if delta > MaxQuantity-st.Quantity {
		return 0, fmt.Errorf("%w: sku %s holds %d units, adding %d exceeds the limit of %d", ErrInvalidQuantity, sku, st.Quantity, delta, MaxQuantity)
	}
	next := st.Quantity + delta
	if next < 0 {
		return 0, &InsufficientStockError{SKU: sku, Requested: -delta, Available: st.Quantity}
	}

	now := l.now()
	if err := u.SetStock(ctx, st.ProductID, next, now); err != nil {
		return 0, err
	}
	m := &StockMovement{
		ProductID: st.ProductID,
		SKU:       sku,
		Delta:     delta,
		Reason:    reason,
		OrderID:   ref.OrderID,
		Note:      ref.Note,
		CreatedAt: now,
	}
	if err := u.AppendMovement(ctx, m); err != nil {
		return 0, err
	}
	return next, nil
}

// RecordFulfillment appends a zero-delta FULFILL movement: units held by a
// paid order leave the books without changing the quantity again.
func (l Ledger) RecordFulfillment(ctx context.Context, tx Tx, sku, orderID string, qty int) error {
	p, err := tx.ProductBySKU(ctx, sku)
	if err != nil {
		return err
	}
	return tx.AppendMovement(ctx, &StockMovement{
		ProductID: p.ID,
		SKU:       sku,
		Reason:    ReasonFulfill,
		OrderID:   orderID,
		Note:      fmt.Sprintf("%d units consumed", qty),
		CreatedAt: l.now(),
	})
}

func (l Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now()
}
